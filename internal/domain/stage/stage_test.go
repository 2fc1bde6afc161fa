package stage_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jordanhubbard/swarm-orchestrator/internal/domain/stage"
)

func TestStageRoundTrip(t *testing.T) {
	all := []stage.Stage{stage.RustContract, stage.Implement, stage.QaEnforcer, stage.RedQueen, stage.Done}
	for _, s := range all {
		parsed, err := stage.ParseStage(s.String())
		require.NoError(t, err)
		require.Equal(t, s, parsed)
	}
}

func TestParseStageUnknown(t *testing.T) {
	_, err := stage.ParseStage("bogus")
	require.Error(t, err)
}

func TestDecideTotality(t *testing.T) {
	stages := []stage.Stage{stage.RustContract, stage.Implement, stage.QaEnforcer, stage.RedQueen, stage.Done}
	for _, s := range stages {
		for _, passed := range []bool{true, false} {
			for _, exhausted := range []bool{true, false} {
				tr, reason := stage.Decide(s, passed, exhausted)
				require.NotEmpty(t, reason)
				_ = tr
			}
		}
	}
}

func TestDecideTable(t *testing.T) {
	cases := []struct {
		name       string
		stage      stage.Stage
		passed     bool
		exhausted  bool
		wantKind   stage.TransitionKind
		wantNext   stage.Stage
		wantReason string
	}{
		{"rust-contract advance", stage.RustContract, true, false, stage.TransitionAdvance, stage.Implement, "stage_passed_advance"},
		{"implement advance", stage.Implement, true, false, stage.TransitionAdvance, stage.QaEnforcer, "stage_passed_advance"},
		{"qa advance", stage.QaEnforcer, true, false, stage.TransitionAdvance, stage.RedQueen, "stage_passed_advance"},
		{"red queen complete", stage.RedQueen, true, false, stage.TransitionComplete, 0, "red_queen_passed_complete"},
		{"done no-op", stage.Done, true, false, stage.TransitionNoOp, 0, "stage_passed_no_next_stage"},
		{"retry", stage.Implement, false, false, stage.TransitionRetry, 0, "stage_failed_retry"},
		{"block", stage.QaEnforcer, false, true, stage.TransitionBlock, 0, "stage_failed_max_attempts_reached"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			tr, reason := stage.Decide(c.stage, c.passed, c.exhausted)
			require.Equal(t, c.wantKind, tr.Kind)
			if c.wantKind == stage.TransitionAdvance {
				require.Equal(t, c.wantNext, tr.Next)
			}
			require.Equal(t, c.wantReason, reason)
		})
	}
}

func TestRequirePushConfirmation(t *testing.T) {
	complete := stage.Transition{Kind: stage.TransitionComplete}
	require.Error(t, stage.RequirePushConfirmation(complete, false))
	require.NoError(t, stage.RequirePushConfirmation(complete, true))

	advance := stage.Transition{Kind: stage.TransitionAdvance, Next: stage.Implement}
	require.NoError(t, stage.RequirePushConfirmation(advance, false))
}
