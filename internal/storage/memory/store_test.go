package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webcrawl-engine/internal/scan"
	"github.com/JakeFAU/webcrawl-engine/internal/site"
)

func records(id string, links []scan.LinkRecord, errs []scan.ErrorRecord) scan.Records {
	return scan.Records{Payload: scan.Payload{ScanID: id}, Links: links, Errors: errs}
}

func TestHistoryAcrossScans(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()
	require.NoError(t, store.WriteScan(ctx, records("s1", []scan.LinkRecord{
		{Site: "a.example", Pathname: "/", Visited: true},
		{Site: "a.example", Pathname: "/x"},
		{Site: "a.example", Pathname: "/y"},
		{Site: "b.example", Pathname: "/z"},
	}, []scan.ErrorRecord{
		{Site: "a.example", Pathname: "/sitemap-2.xml", PathLabel: site.LabelSitemapMisc},
		{Site: "a.example", Pathname: "/broken", PathLabel: "article"},
	})))
	require.NoError(t, store.WriteScan(ctx, records("s2", []scan.LinkRecord{
		{Site: "a.example", Pathname: "/x", Label: "article", Visited: true},
	}, nil)))

	visited, err := store.VisitedPathnames(ctx, "a.example")
	require.NoError(t, err)
	require.Equal(t, []string{"/", "/x"}, visited)

	backlog, err := store.BacklogPathnames(ctx, "a.example")
	require.NoError(t, err)
	require.Equal(t, []string{"/y"}, backlog)

	failed, err := store.FailedSitemapPathnames(ctx, "a.example")
	require.NoError(t, err)
	require.Equal(t, []string{"/sitemap-2.xml"}, failed)

	got, err := store.ScanRecords(ctx, "s2")
	require.NoError(t, err)
	require.Len(t, got.Links, 1)
	_, err = store.ScanRecords(ctx, "nope")
	require.ErrorIs(t, err, scan.ErrScanNotFound)
	require.Error(t, store.WriteScan(ctx, scan.Records{}))
}

func TestJobLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	job := scan.Job{ID: "job-1", Status: scan.JobQueued, Submitted: now}
	require.NoError(t, store.CreateJob(ctx, job))
	require.Error(t, store.CreateJob(ctx, job))
	require.NoError(t, store.UpdateJob(ctx, job.ID, scan.JobRunning, nil))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, scan.JobRunning, got.Status)
	require.NotNil(t, got.Started)
	require.Nil(t, got.Finished)

	payload := &scan.Payload{ScanID: job.ID, Success: true}
	require.NoError(t, store.UpdateJob(ctx, job.ID, scan.JobSucceeded, payload))
	got, err = store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Finished)
	require.True(t, got.Payload.Success)

	require.ErrorIs(t, store.UpdateJob(ctx, "missing", scan.JobRunning, nil), scan.ErrJobNotFound)
	_, err = store.GetJob(ctx, "missing")
	require.ErrorIs(t, err, scan.ErrJobNotFound)
}

func TestListJobsFiltersAndPages(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.CreateJob(ctx, scan.Job{ID: id, Status: scan.JobQueued, Submitted: base.Add(time.Duration(i) * time.Minute)}))
	}
	require.NoError(t, store.UpdateJob(ctx, "b", scan.JobFailed, &scan.Payload{ScanID: "b"}))

	all, err := store.ListJobs(ctx, nil, 0, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b", "a"}, jobIDs(all))

	queued := scan.JobQueued
	filtered, err := store.ListJobs(ctx, &queued, 1, 1)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, jobIDs(filtered))

	empty, err := store.ListJobs(ctx, nil, 10, 5)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestSiteProgress(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := New()
	require.NoError(t, store.RecordSiteProgress(ctx, scan.SiteProgress{ScanID: "s", Site: "b.example", Visits: 1}))
	require.NoError(t, store.RecordSiteProgress(ctx, scan.SiteProgress{ScanID: "s", Site: "a.example", Visits: 2}))
	require.NoError(t, store.RecordSiteProgress(ctx, scan.SiteProgress{ScanID: "s", Site: "b.example", Visits: 3}))

	got, err := store.ListSiteProgress(ctx, "s")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "a.example", got[0].Site)
	require.EqualValues(t, 3, got[1].Visits)
}

func jobIDs(jobs []scan.Job) []string {
	out := make([]string, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.ID)
	}
	return out
}
