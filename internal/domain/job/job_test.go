package job

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func details(source string) Details {
	return Details{Source: source, Platform: "PC", JobKey: "Compile", BuilderID: "copy", Priority: 3}
}

func TestIdentityIsCaseInsensitiveOnPlatformAndKeyOnly(t *testing.T) {
	t.Parallel()

	a := NewIdentity("Textures/A.png", "PC", "Compile")
	b := NewIdentity("Textures/A.png", "pc", "compile")
	c := NewIdentity("textures/a.png", "pc", "compile")

	assert.Equal(t, a, b)
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a, c)
}

func TestStateTransitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to State
		ok       bool
	}{
		{StatePending, StateProcessing, true},
		{StatePending, StateCancelled, true},
		{StatePending, StateCompleted, false},
		{StateProcessing, StateCompleted, true},
		{StateProcessing, StateCrashed, true},
		{StateProcessing, StateTerminated, true},
		{StateProcessing, StateFailed, true},
		{StateProcessing, StateCancelled, true},
		{StateProcessing, StatePending, false},
		{StateCompleted, StatePending, false},
		{StateCancelled, StateProcessing, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	t.Parallel()

	j := New(1, details("a.txt"))
	require.NoError(t, j.Transition(StateCancelled))

	err := j.Transition(StatePending)
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeInvalidTransition))
	assert.Equal(t, StateCancelled, j.State())
}

func TestStartAssignsRunIdentity(t *testing.T) {
	t.Parallel()

	j := New(7, details("a.txt"))
	run, err := j.Start()
	require.NoError(t, err)

	assert.Equal(t, StateProcessing, j.State())
	assert.Equal(t, Handle(7), run.Handle)
	assert.Equal(t, j.RunID(), run.ID)
	assert.Equal(t, NewIdentity("a.txt", "pc", "compile"), run.Identity())

	_, err = j.Start()
	require.Error(t, err)
}

func TestRaiseNeverLowers(t *testing.T) {
	t.Parallel()

	j := New(1, details("a.txt"))
	assert.False(t, j.RaisePriority(1))
	assert.Equal(t, 3, j.Priority())
	assert.True(t, j.RaisePriority(10))
	assert.False(t, j.RaisePriority(4))
	assert.Equal(t, 10, j.Priority())

	assert.True(t, j.RaiseEscalation(EscalationCriticalDependency))
	assert.False(t, j.RaiseEscalation(EscalationAssetJobRequest))
	assert.Equal(t, EscalationCriticalDependency, j.Escalation())
}

func TestDependencyMatching(t *testing.T) {
	t.Parallel()

	id := NewIdentity("b.txt", "pc", "compile")

	assert.True(t, Dependency{Source: "b.txt", Platform: "PC"}.Matches(id, "copy"))
	assert.True(t, Dependency{Source: "b.txt", Platform: "pc", JobKey: "COMPILE"}.Matches(id, "copy"))
	assert.False(t, Dependency{Source: "b.txt", Platform: "pc", JobKey: "other"}.Matches(id, "copy"))
	assert.True(t, Dependency{Source: "b.txt", Platform: "pc", BuilderID: "copy"}.Matches(id, "copy"))
	assert.False(t, Dependency{Source: "b.txt", Platform: "pc", BuilderID: "command"}.Matches(id, "copy"))
	assert.False(t, Dependency{Source: "B.txt", Platform: "pc"}.Matches(id, "copy"))
	assert.False(t, Dependency{Source: "b.txt", Platform: "android"}.Matches(id, "copy"))
}

func TestParseDependencyKind(t *testing.T) {
	t.Parallel()

	for input, want := range map[string]DependencyKind{
		"order":      DependencyOrder,
		"OrderOnce":  DependencyOrderOnce,
		"order-only": DependencyOrderOnly,
		"job_to_job": DependencyJobToJob,
	} {
		got, err := ParseDependencyKind(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}
	_, err := ParseDependencyKind("sometimes")
	require.Error(t, err)

	assert.True(t, DependencyOrderOnce.Orders())
	assert.False(t, DependencyJobToJob.Orders())
}

func TestMissingSourceDependency(t *testing.T) {
	t.Parallel()

	d := details("a.txt")
	d.Dependencies = []Dependency{{Source: "b.txt", Platform: "pc"}, {Source: "c*.txt", Platform: "pc", MissingSource: true}}
	j := New(1, d)

	assert.True(t, j.HasDependencies())
	assert.True(t, j.HasMissingSourceDependency())
}

func TestDetailsValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, details("a.txt").Validate())

	missing := details("")
	err := missing.Validate()
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeValidation))

	autoFail := Details{Source: "a.txt", Platform: "pc", AutoFail: true}
	require.NoError(t, autoFail.Validate())
}

func TestDomainErrorIsMatchesCode(t *testing.T) {
	t.Parallel()

	err := NewError(ErrCodeDuplicateProduct, "two outputs share a sub id", errors.New("sub id 3"))
	assert.True(t, errors.Is(err, &DomainError{Code: ErrCodeDuplicateProduct}))
	assert.False(t, errors.Is(err, &DomainError{Code: ErrCodeTimeout}))

	withCtx := err.WithContext(map[string]interface{}{"job": "a.txt"})
	assert.Equal(t, "a.txt", withCtx.Context["job"])
	assert.Contains(t, withCtx.Error(), "sub id 3")
}
