// Package skillprompts holds the fixed per-stage skill prompt text handed
// to an agent before it runs a pipeline stage.
package skillprompts

const rustContract = `# Skill: Rust Contract Architect

Invoke this skill before any implementation work begins. It produces the
formal contract that every subsequent phase must follow.

## Process
1. Read the bead description from the backlog.
2. Identify all core functional requirements.
3. Define the invariants: what must always be true before and after execution.
4. Define the test plan: specific edge cases and error conditions to verify.
5. Produce a Markdown document containing these sections.

## Success criteria
- The contract is unambiguous.
- All edge cases identified in the bead are addressed.
- The output is valid Markdown.`

const functionalGenerator = `# Skill: Functional Implementation Generator

Invoke this skill after rust-contract has produced a contract. Use the
contract as the authoritative specification for implementation.

## Constraints
- No unchecked panics or unwraps.
- Propagate errors explicitly; never swallow them.
- Prefer immutable data structures and transformations.
- Write idiomatic, self-documenting code.

## Process
1. Read the contract document for the bead.
2. Implement the requested logic following the constraints above.
3. Ensure the code compiles and adheres to project standards.

## Success criteria
- Code compiles without warnings.
- No unsafe or panicking code is present.
- Logic correctly implements the contract.`

const qaEnforcer = `# Skill: QA Enforcer

Invoke this skill after implementation has completed. Use both the
contract and the implementation as reference.

## Process
1. Identify relevant tests for the implementation.
2. Execute the tests using the project's test runner.
3. Analyze the test output.
4. If tests fail, provide detailed feedback on why and what needs to be fixed.

## Success criteria
- All tests in the test suite pass.
- Test coverage is adequate for the new logic.`

const redQueen = `# Skill: Red Queen (Adversarial QA)

Invoke this skill after qa-enforcer has validated all tests pass. This
is the final adversarial validation gate.

## Process
1. Perform mutation-testing or property-based-testing analysis.
2. Try to find inputs that cause unexpected behavior, even without a panic.
3. Search for performance regressions or concurrency bottlenecks.
4. Document any found weaknesses and provide feedback for improvement.

## Success criteria
- No easy bugs remain.
- The code is resilient to adversarial inputs.
- A detailed report of the inspection is produced.`

var prompts = map[string]string{
	"rust-contract":             rustContract,
	"functional-rust-generator": functionalGenerator,
	"implement":                 functionalGenerator,
	"qa-enforcer":                qaEnforcer,
	"red-queen":                 redQueen,
}

// Get returns the fixed prompt text for name, and false if name is not a
// recognized skill.
func Get(name string) (string, bool) {
	p, ok := prompts[name]
	return p, ok
}
