package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(ee *EnhancedError) { r.reported = append(r.reported, ee) }
func (r *recordingReporter) IsEnabled() bool               { return true }

func TestBuild_Defaults(t *testing.T) {
	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.Component)
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.Timestamp.IsZero())
}

func TestBuild_NilError(t *testing.T) {
	ee := New(nil).Component("aggregate").Build()
	require.Error(t, ee)
	assert.Equal(t, "unknown error", ee.Error())
}

func TestBuild_ContextAndPriority(t *testing.T) {
	ee := Newf("lease held by %s", "abc").
		Component("migration").
		Category(CategoryConflict).
		Priority("urgent").
		Context("job_kind", "legacy_status_migration").
		Build()

	assert.Equal(t, "lease held by abc", ee.Error())
	assert.Equal(t, PriorityMedium, ee.Priority, "unknown priority falls back to medium")
	assert.Equal(t, map[string]any{"job_kind": "legacy_status_migration"}, ee.GetContext())
}

func TestIsCategory_ThroughWrapping(t *testing.T) {
	base := New(NewStd("row missing")).Category(CategoryNotFound).Build()
	wrapped := fmt.Errorf("loading analysis: %w", base)

	assert.True(t, IsNotFound(wrapped))
	assert.True(t, IsCategory(wrapped, CategoryNotFound))
	assert.False(t, IsCategory(wrapped, CategoryDatabase))
	assert.Equal(t, CategoryNotFound, CategoryOf(wrapped))
	assert.Equal(t, CategoryGeneric, CategoryOf(NewStd("plain")))
}

func TestEnhancedError_IsUnwrapsToSentinel(t *testing.T) {
	sentinel := NewStd("job already running")
	ee := New(sentinel).Category(CategoryConflict).Build()

	assert.ErrorIs(t, ee, sentinel)
	assert.ErrorIs(t, ee, &EnhancedError{Category: CategoryConflict})
}

func TestTelemetryReporter_ReceivesBuiltErrors(t *testing.T) {
	reporter := &recordingReporter{}
	SetTelemetryReporter(reporter)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	New(NewStd("store unavailable")).Category(CategoryDatabase).Build()
	require.Len(t, reporter.reported, 1)
	assert.Equal(t, CategoryDatabase, reporter.reported[0].Category)

	SetTelemetryReporter(nil)
	New(NewStd("ignored")).Build()
	assert.Len(t, reporter.reported, 1)
}

func TestSentryReporter_DisabledIsNoop(t *testing.T) {
	sr := NewSentryReporter(false)
	ee := New(NewStd("x")).Category(CategoryDatabase).Build()

	sr.ReportError(ee)
	assert.False(t, ee.IsReported())
}

func TestScrubMessage(t *testing.T) {
	scrubbed := scrubMessage("GET https://id.example.com/users?pageToken=abc failed: token=s3cr3t")
	assert.NotContains(t, scrubbed, "pageToken=abc")
	assert.NotContains(t, scrubbed, "s3cr3t")
	assert.Contains(t, scrubbed, "https://id.example.com/users?[REDACTED]")
}
