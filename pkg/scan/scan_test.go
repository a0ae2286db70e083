package scan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/CompassSecurity/docleek/pkg/config"
	"github.com/CompassSecurity/docleek/pkg/detector"
	"github.com/CompassSecurity/docleek/pkg/detector/pattern"
	"github.com/CompassSecurity/docleek/pkg/detector/tpfp"
	"github.com/CompassSecurity/docleek/pkg/extract"
	"github.com/CompassSecurity/docleek/pkg/model"
	"github.com/CompassSecurity/docleek/pkg/signal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ssnLine = "Employee SSN: 219-09-9999 on file\n"

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Secrets.Enabled = false
	cfg.Scan.QueueFolder = t.TempDir()
	cfg.Scan.Workers = 2
	return cfg
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestScanTree(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "hr", "people.txt"), ssnLine)
	writeFile(t, filepath.Join(root, "notes.md"), "nothing to see\n")
	writeFile(t, filepath.Join(root, "node_modules", "pkg", "leak.txt"), ssnLine)

	var mu sync.Mutex
	var reported []string
	s, err := New(testConfig(t), WithReporter(func(f model.FileResult) {
		mu.Lock()
		reported = append(reported, f.Path)
		mu.Unlock()
	}))
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ScanID)
	assert.False(t, rec.Cancelled)
	assert.False(t, rec.CompletedAt.Before(rec.StartedAt))
	require.Len(t, rec.FileResults, 2)
	assert.ElementsMatch(t, []string{rec.FileResults[0].Path, rec.FileResults[1].Path}, reported)

	people := rec.FileResults[0]
	assert.Equal(t, filepath.Join(root, "hr", "people.txt"), people.Path)
	require.Len(t, people.Matches, 1)
	m := people.Matches[0]
	assert.Equal(t, model.EntitySSN, m.EntityType)
	assert.Equal(t, model.VerdictPending, m.Verdict)
	assert.NotContains(t, m.RedactedValue, "219-09-9999")
	assert.NotContains(t, m.Context, "219-09-9999")
	assert.Equal(t, model.LabelHighlyConfidential, people.LabelRecommendation)
	assert.Equal(t, int64(len(ssnLine)), people.SizeBytes)

	notes := rec.FileResults[1]
	assert.Empty(t, notes.Matches)
	assert.Equal(t, model.LabelNone, notes.LabelRecommendation)

	done, total := s.Progress()
	assert.Equal(t, int64(2), done)
	assert.Equal(t, int64(2), total)

	sum := rec.Summary()
	assert.Equal(t, 1, sum.FilesWithMatches)
	assert.Equal(t, 1, sum.PendingMatches)
}

func TestScanSingleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "one.txt")
	writeFile(t, path, ssnLine)
	s, err := New(testConfig(t))
	require.NoError(t, err)

	rec, err := s.Scan(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, rec.FileResults, 1)
	assert.Len(t, rec.FileResults[0].Matches, 1)
}

func TestScanCancelledBeforeStart(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), ssnLine)
	s, err := New(testConfig(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec, err := s.Scan(ctx, root)
	require.NoError(t, err)
	assert.True(t, rec.Cancelled)
	assert.Empty(t, rec.FileResults)
}

func TestScanMissingRoot(t *testing.T) {
	s, err := New(testConfig(t))
	require.NoError(t, err)
	_, err = s.Scan(context.Background(), filepath.Join(t.TempDir(), "absent"))
	assert.ErrorIs(t, err, &model.Error{Kind: model.KindExtraction, Code: model.CodeNotFound})
}

type blockingExtractor struct {
	release chan struct{}
}

func (b blockingExtractor) Documents(ctx context.Context, path string) []extract.Document {
	<-b.release
	return []extract.Document{{Path: path}}
}

func TestScanFileTimeout(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "slow.txt"), "x")

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	cfg := testConfig(t)
	cfg.Scan.FileTimeout = 50 * time.Millisecond
	s, err := New(cfg, WithExtractor(blockingExtractor{release: release}))
	require.NoError(t, err)

	rec, err := s.Scan(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, rec.FileResults, 1)
	fr := rec.FileResults[0]
	require.NotNil(t, fr.Error)
	assert.Equal(t, model.KindExtraction, fr.Error.Kind)
	assert.Equal(t, model.CodeTimeout, fr.Error.Code)
	assert.False(t, rec.Cancelled)
}

type failingDetector struct{}

func (failingDetector) Name() string { return "recognizer" }

func (failingDetector) Detect(context.Context, string) ([]model.CandidateMatch, error) {
	return nil, errors.New("connection refused")
}

func TestDetectorFailureKeepsOtherMatches(t *testing.T) {
	cfg := testConfig(t)
	n := signal.New(cfg)
	reg := detector.NewRegistry(detector.NewPattern(pattern.New(cfg.Pattern), n), failingDetector{})
	s, err := New(cfg, WithRegistry(reg))
	require.NoError(t, err)

	fr := s.AnalyzeDocument(context.Background(), extract.Document{Path: "a.txt", Text: ssnLine})
	require.Len(t, fr.Matches, 1)
	require.NotNil(t, fr.Error)
	assert.Equal(t, model.KindDetector, fr.Error.Kind)
	assert.Equal(t, "recognizer", fr.Error.Detail)
	assert.Equal(t, model.LabelHighlyConfidential, fr.LabelRecommendation)
}

func TestExtractionErrorCarried(t *testing.T) {
	s, err := New(testConfig(t))
	require.NoError(t, err)
	fr := s.AnalyzeDocument(context.Background(), extract.Document{
		Path: "big.bin",
		Err:  &model.Error{Kind: model.KindExtraction, Code: model.CodeOversized},
	})
	assert.Empty(t, fr.Matches)
	assert.Equal(t, model.CodeOversized, fr.Error.Code)
	assert.Equal(t, model.LabelNone, fr.LabelRecommendation)
}

type fakeClassifier struct {
	items []tpfp.Item
	res   tpfp.Result
	err   error
}

func (f *fakeClassifier) Score(_ context.Context, items []tpfp.Item) (tpfp.Result, error) {
	f.items = items
	return f.res, f.err
}

func TestClassifierOverridesConfidence(t *testing.T) {
	c := &fakeClassifier{res: tpfp.Result{ModelVersion: "2.0.1", Scores: []tpfp.Score{{MatchID: "0", Score: 0.97}, {MatchID: "9", Score: 0.1}}}}
	s, err := New(testConfig(t), WithClassifier(c))
	require.NoError(t, err)

	matches, derr := s.Analyze(context.Background(), ssnLine)
	require.Nil(t, derr)
	require.Len(t, matches, 1)
	m := matches[0]
	assert.Equal(t, 0.97, m.FinalConfidence)
	assert.Equal(t, model.VerdictTP, m.Verdict)
	assert.Equal(t, "2.0.1", m.ModelVersion)
	assert.True(t, m.HasSource(model.SourceClassifier))

	require.Len(t, c.items, 1)
	assert.Equal(t, model.EntitySSN, c.items[0].EntityType)
	assert.Contains(t, c.items[0].Context, "[SSN]")
	assert.NotContains(t, c.items[0].Context, "219-09-9999")
}

func TestClassifierFailureIsIsolated(t *testing.T) {
	c := &fakeClassifier{err: errors.New("503")}
	s, err := New(testConfig(t), WithClassifier(c))
	require.NoError(t, err)

	matches, derr := s.Analyze(context.Background(), ssnLine)
	require.Len(t, matches, 1)
	assert.Equal(t, 0.75, matches[0].FinalConfidence)
	require.NotNil(t, derr)
	assert.Equal(t, "classifier", derr.Detail)
}

func TestClassifierSkippedWithoutGroups(t *testing.T) {
	c := &fakeClassifier{}
	s, err := New(testConfig(t), WithClassifier(c))
	require.NoError(t, err)
	matches, derr := s.Analyze(context.Background(), "plain prose")
	assert.Empty(t, matches)
	assert.Nil(t, derr)
	assert.Nil(t, c.items)
}

func TestWithFailed(t *testing.T) {
	e := withFailed(model.DetectorError("secrets", nil), "classifier", errors.New("x"))
	assert.Equal(t, "classifier,secrets", e.Detail)
	e = withFailed(nil, "classifier", errors.New("x"))
	assert.Equal(t, "classifier", e.Detail)
}

func TestWalkSkipsExcludedAndSymlinks(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "b.txt"), "b")
	writeFile(t, filepath.Join(root, "a", "c.txt"), "c")
	writeFile(t, filepath.Join(root, ".git", "config"), "x")
	writeFile(t, filepath.Join(root, "lib", "x.egg-info", "PKG-INFO"), "x")
	require.NoError(t, os.Symlink(filepath.Join(root, "b.txt"), filepath.Join(root, "link.txt")))

	var got []string
	err := walk(root, config.DefaultExcludes, func(path string, err error) error {
		require.NoError(t, err)
		rel, _ := filepath.Rel(root, path)
		got = append(got, filepath.ToSlash(rel))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a/c.txt", "b.txt"}, got)
}

func TestQueueRoundTrip(t *testing.T) {
	q, file, err := setupQueue(t.TempDir())
	require.NoError(t, err)
	defer teardownQueue(q, file)

	require.NoError(t, enqueue(q, queueItem{Seq: 0, Path: "/a"}))
	require.NoError(t, enqueue(q, queueItem{Seq: 1, Path: "/b"}))

	select {
	case msg := <-q.ReadChan():
		assert.JSONEq(t, `{"seq":0,"path":"/a"}`, string(msg))
	case <-time.After(5 * time.Second):
		t.Fatal("queue did not deliver")
	}
}
