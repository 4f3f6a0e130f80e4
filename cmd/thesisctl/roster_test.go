package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/thesis-registration-api/internal/roster"
	"github.com/noah-isme/thesis-registration-api/pkg/jobs"
)

const inspectRoster = "Danh sach sinh vien\n" +
	"MSSV,Ho va ten,Lop,So tin chi\n" +
	"B03,Le Van C,DI20,100\n" +
	"B01,Nguyen Van A,DI20,120\n" +
	",,,\n" +
	"B02,Tran Thi B,DI21,\n" +
	"B01,Nguyen Van A,DI20,121\n"

func parseInspectRoster(t *testing.T) *roster.Result {
	t.Helper()
	rows, err := roster.ReadCSV(strings.NewReader(inspectRoster))
	require.NoError(t, err)
	result, err := roster.Parse(rows, roster.Options{})
	require.NoError(t, err)
	return result
}

func TestBuildPreviewSortsAndLimitsSample(t *testing.T) {
	result := parseInspectRoster(t)

	preview := buildPreview(result, 2)
	assert.Equal(t, 2, preview.HeaderRow)
	assert.True(t, preview.HasCredits)
	assert.Equal(t, 3, preview.Records)
	assert.Equal(t, 1, preview.Duplicates)
	require.Len(t, preview.Sample, 2)
	assert.Equal(t, "B01", preview.Sample[0].StudentCode)
	assert.Equal(t, "B02", preview.Sample[1].StudentCode)
	require.NotNil(t, preview.Sample[0].Credits)
	assert.Equal(t, 121, *preview.Sample[0].Credits)
	assert.Nil(t, preview.Sample[1].Credits)
}

func TestRenderPreview(t *testing.T) {
	var out bytes.Buffer
	renderPreview(&out, buildPreview(parseInspectRoster(t), 10))

	text := out.String()
	assert.Contains(t, text, "HEADER ROW")
	assert.Contains(t, text, "Nguyen Van A")
	assert.Contains(t, text, "Tran Thi B")
	assert.Contains(t, text, "-")
}

func TestInlineQueueRunsHandler(t *testing.T) {
	var seen jobs.Job
	queue := inlineQueue{handler: func(_ context.Context, job jobs.Job) error {
		seen = job
		return nil
	}}
	require.NoError(t, queue.Enqueue(context.Background(), jobs.Job{ID: "batch-1"}))
	assert.Equal(t, "batch-1", seen.ID)
	assert.True(t, seen.Final)

	failing := inlineQueue{handler: func(context.Context, jobs.Job) error { return errors.New("boom") }}
	assert.Error(t, failing.Enqueue(context.Background(), jobs.Job{ID: "batch-2"}))
}
