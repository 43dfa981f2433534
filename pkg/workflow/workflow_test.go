package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/narcissus123/continuity/pkg/apperr"
	"github.com/narcissus123/continuity/pkg/db"
	"github.com/narcissus123/continuity/pkg/db/dbtest"
	"github.com/narcissus123/continuity/pkg/db/queries"
	"github.com/narcissus123/continuity/pkg/llm"
	"github.com/narcissus123/continuity/pkg/session"
	"github.com/narcissus123/continuity/pkg/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store *db.Store
	redis *miniredis.Miniredis
	orch  *session.Orchestrator
	coord *workflow.Coordinator
	user  *db.User
	video *db.Video
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := dbtest.Open(t)
	sessions := session.NewRedisStore(client, "session", time.Hour)
	orch := session.NewOrchestrator(store, sessions, session.NewRedisLocker(client, "lock", 5*time.Second), "continuity")
	coord := workflow.NewCoordinator(store, sessions,
		llm.StubGenerator{Paragraphs: 3},
		workflow.StubRenderer{Root: "renders", CostPerImage: 0.04},
		2)

	user := dbtest.SeedUser(t, store, "maker@example.com", "Maker")
	video := dbtest.SeedVideo(t, store, user.UserID, "Lighthouse", "")
	return &fixture{store: store, redis: m, orch: orch, coord: coord, user: user, video: video}
}

// failingRenderer renders normally until call failOn, which errors.
type failingRenderer struct {
	inner  workflow.StubRenderer
	failOn int
	calls  *int
}

func (r failingRenderer) Render(ctx context.Context, req workflow.RenderRequest) (workflow.RenderResult, error) {
	*r.calls++
	if *r.calls == r.failOn {
		return workflow.RenderResult{}, errors.New("gpu gone")
	}
	return r.inner.Render(ctx, req)
}

func (f *fixture) acquire(t *testing.T) *session.Session {
	t.Helper()
	sess, err := f.orch.Acquire(context.Background(), f.video.VideoID, f.user.UserID)
	require.NoError(t, err)
	return sess
}

func (f *fixture) step(t *testing.T, sess *session.Session) *workflow.StepResult {
	t.Helper()
	res, err := f.coord.Step(context.Background(), sess, nil)
	require.NoError(t, err)
	return res
}

func TestPhaseOfPrecedence(t *testing.T) {
	assert.Equal(t, workflow.PhaseScript, workflow.PhaseOf(nil))
	assert.Equal(t, workflow.PhaseScript, workflow.PhaseOf(&session.Progress{ScenesCompleted: true}))
	assert.Equal(t, workflow.PhaseScenes, workflow.PhaseOf(&session.Progress{ScriptCompleted: true}))
	assert.Equal(t, workflow.PhaseImageBatches, workflow.PhaseOf(&session.Progress{
		ScriptCompleted: true, ScenesCompleted: true, NextSceneToGenerate: 3, TotalScenes: 3}))
	assert.Equal(t, workflow.PhaseComplete, workflow.PhaseOf(&session.Progress{
		ScriptCompleted: true, ScenesCompleted: true, NextSceneToGenerate: 4, TotalScenes: 3}))
}

func TestGuard(t *testing.T) {
	assert.NoError(t, workflow.Guard(workflow.PhaseScript, workflow.PhaseScript))
	assert.NoError(t, workflow.Guard(workflow.PhaseScript, workflow.PhaseScenes))
	assert.True(t, apperr.Is(workflow.Guard(workflow.PhaseScript, workflow.PhaseImageBatches), apperr.ReasonPhaseOrder))
	assert.True(t, apperr.Is(workflow.Guard(workflow.PhaseComplete, workflow.PhaseScenes), apperr.ReasonPhaseOrder))
}

func TestParsePhase(t *testing.T) {
	p, err := workflow.ParsePhase("Image_Batches")
	require.NoError(t, err)
	assert.Equal(t, workflow.PhaseImageBatches, p)
	assert.Equal(t, "image_batches", p.String())

	_, err = workflow.ParsePhase("assembly")
	assert.True(t, apperr.Is(err, apperr.ReasonInvalidFormat))
}

func TestStepRunsPhasesInOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := f.acquire(t)

	res := f.step(t, sess)
	assert.Equal(t, "script", res.Ran)
	assert.Equal(t, "scenes", res.Next)
	video, err := queries.FindVideoByID(ctx, f.store.DB, f.video.VideoID)
	require.NoError(t, err)
	assert.Contains(t, video.Script.String, "Lighthouse")

	res = f.step(t, sess)
	assert.Equal(t, "scenes", res.Ran)
	assert.Equal(t, 3, res.SceneCount)
	assert.Equal(t, 3, sess.State.Progress.TotalScenes)
	assert.Len(t, sess.State.Progress.ScenesSummary, 3)

	res = f.step(t, sess)
	assert.Equal(t, "image_batches", res.Ran)
	assert.Equal(t, 1, res.BatchNumber)
	assert.Len(t, res.ImageIDs, 2)

	res = f.step(t, sess)
	assert.Equal(t, 2, res.BatchNumber)
	assert.Len(t, res.ImageIDs, 1)
	assert.Len(t, sess.State.Progress.ImagesInProgress, 3)
	assert.InDelta(t, 0.12, sess.State.Progress.SessionCost, 1e-9)

	_, err = f.coord.Step(ctx, sess, nil)
	assert.True(t, apperr.Is(err, apperr.ReasonConflict))

	for _, id := range append([]string(nil), sess.State.Progress.ImagesInProgress...) {
		_, err := f.coord.Review(ctx, sess, id, true, "")
		require.NoError(t, err)
	}
	assert.Equal(t, 4, sess.State.Progress.NextSceneToGenerate)
	assert.Equal(t, "renders/"+f.video.VideoID+"/scene_001_attempt_1.png", sess.State.Progress.CharacterReferencePath)

	res = f.step(t, sess)
	assert.Equal(t, "complete", res.Ran)
	video, err = queries.FindVideoByID(ctx, f.store.DB, f.video.VideoID)
	require.NoError(t, err)
	assert.Equal(t, db.VideoStatusCompleted, video.Status)
	assert.Equal(t, 3, video.ImagesGeneratedCount)
	assert.InDelta(t, 0.12, video.TotalCost, 1e-9)

	user, err := queries.FindUserByID(ctx, f.store.DB, f.user.UserID)
	require.NoError(t, err)
	assert.InDelta(t, 0.12, user.MonthlyCost, 1e-9)
}

func TestStepRejectsOutOfOrderRequest(t *testing.T) {
	f := newFixture(t)
	sess := f.acquire(t)

	want := workflow.PhaseScenes
	_, err := f.coord.Step(context.Background(), sess, &want)
	assert.True(t, apperr.Is(err, apperr.ReasonPhaseOrder))
	assert.False(t, sess.State.Progress.ScriptCompleted)
}

func TestStepCheckpointsAndSaves(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := f.acquire(t)
	f.step(t, sess)
	f.step(t, sess)
	f.step(t, sess)

	cp, err := queries.FindCheckpoint(ctx, f.store.DB, f.video.VideoID)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 1, cp.CurrentBatch)
	assert.Equal(t, 1, cp.NextScene)
	assert.InDelta(t, 0.08, cp.SessionCost, 1e-9)

	again := f.acquire(t)
	assert.Equal(t, sess.ID, again.ID)
	assert.Equal(t, sess.State.Progress.ImagesInProgress, again.State.Progress.ImagesInProgress)
}

func TestRejectedSceneIsRegenerated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := f.acquire(t)
	f.step(t, sess)
	f.step(t, sess)
	first := f.step(t, sess)

	img, err := f.coord.Review(ctx, sess, first.ImageIDs[0], false, "wrong hair colour")
	require.NoError(t, err)
	assert.Equal(t, db.ImageStatusRejected, img.Status)
	assert.Equal(t, 1, sess.State.Progress.NextSceneToGenerate)

	res := f.step(t, sess)
	require.Len(t, res.ImageIDs, 2)
	regen, err := queries.FindImageByID(ctx, f.store.DB, res.ImageIDs[0])
	require.NoError(t, err)
	assert.Equal(t, 1, regen.SceneNumber)
	assert.Equal(t, 2, regen.AttemptNumber)
	assert.True(t, regen.IsCharacterReference)
}

func TestReviewRejectsForeignAndRepeatedReviews(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := f.acquire(t)
	f.step(t, sess)
	f.step(t, sess)
	res := f.step(t, sess)

	_, err := f.coord.Review(ctx, sess, "missing-image", true, "")
	assert.True(t, apperr.Is(err, apperr.ReasonNotFound))

	other := dbtest.SeedVideo(t, f.store, f.user.UserID, "Harbour", "script")
	scenes := dbtest.SeedScenes(t, f.store, other.VideoID, 1)
	foreign := dbtest.SeedImage(t, f.store, scenes[0].SceneID, db.ImageStatusPending, false)
	_, err = f.coord.Review(ctx, sess, foreign.ImageID, true, "")
	assert.True(t, apperr.Is(err, apperr.ReasonNotFound))

	_, err = f.coord.Review(ctx, sess, res.ImageIDs[1], true, "")
	require.NoError(t, err)
	_, err = f.coord.Review(ctx, sess, res.ImageIDs[1], false, "")
	assert.True(t, apperr.Is(err, apperr.ReasonConflict))
}

func TestPauseThenResumeAfterEviction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := f.acquire(t)
	f.step(t, sess)
	f.step(t, sess)
	res := f.step(t, sess)
	_, err := f.coord.Review(ctx, sess, res.ImageIDs[0], true, "")
	require.NoError(t, err)

	paused, err := f.coord.Pause(ctx, sess)
	require.NoError(t, err)
	assert.True(t, paused.Yielded)
	assert.Equal(t, "image_batches", paused.Next)

	f.redis.FlushAll()

	rebuilt := f.acquire(t)
	assert.NotEqual(t, sess.ID, rebuilt.ID)
	p := rebuilt.State.Progress
	assert.True(t, p.ScriptCompleted)
	assert.True(t, p.ScenesCompleted)
	assert.Equal(t, 2, p.NextSceneToGenerate)
	assert.Equal(t, 1, p.CurrentBatchNumber)
	assert.Equal(t, sess.State.Progress.CharacterReferencePath, p.CharacterReferencePath)
	assert.Zero(t, p.SessionCost)
	assert.Equal(t, workflow.PhaseImageBatches, workflow.PhaseOf(p))
}

func TestStepWithoutSelectedVideo(t *testing.T) {
	f := newFixture(t)
	sess := f.acquire(t)
	sess.State.ClearVideo()

	_, err := f.coord.Step(context.Background(), sess, nil)
	assert.True(t, apperr.Is(err, apperr.ReasonNotFound))
	_, err = f.coord.Pause(context.Background(), sess)
	assert.True(t, apperr.Is(err, apperr.ReasonNotFound))
}

func TestStubRendererPaths(t *testing.T) {
	out, err := workflow.StubRenderer{}.Render(context.Background(), workflow.RenderRequest{VideoID: "v1", SceneNumber: 7, Attempt: 2})
	require.NoError(t, err)
	assert.Equal(t, "renders/v1/scene_007_attempt_2.png", out.ImagePath)
}

func TestFailedBatchRecordsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sess := f.acquire(t)
	f.step(t, sess)
	f.step(t, sess)

	client := redis.NewClient(&redis.Options{Addr: f.redis.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	sessions := session.NewRedisStore(client, "session", time.Hour)
	calls := 0
	flaky := workflow.NewCoordinator(f.store, sessions, llm.StubGenerator{Paragraphs: 3},
		failingRenderer{inner: workflow.StubRenderer{CostPerImage: 0.5}, failOn: 2, calls: &calls}, 3)

	_, err := flaky.Step(ctx, sess, nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.ReasonInternal))
	assert.Equal(t, 2, calls)

	images, err := queries.ListImagesForVideo(ctx, f.store.DB, f.video.VideoID)
	require.NoError(t, err)
	assert.Empty(t, images)
	user, err := queries.FindUserByID(ctx, f.store.DB, f.user.UserID)
	require.NoError(t, err)
	assert.Zero(t, user.MonthlyCost)
	video, err := queries.FindVideoByID(ctx, f.store.DB, f.video.VideoID)
	require.NoError(t, err)
	assert.Zero(t, video.ImagesGeneratedCount)
	assert.Zero(t, sess.State.Progress.CurrentBatchNumber)
	assert.Empty(t, sess.State.Progress.ImagesInProgress)

	res, err := flaky.Step(ctx, sess, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.BatchNumber)
	require.Len(t, res.ImageIDs, 3)

	first, err := queries.FindImageByID(ctx, f.store.DB, res.ImageIDs[0])
	require.NoError(t, err)
	assert.Equal(t, 1, first.AttemptNumber)

	cp, err := queries.FindCheckpoint(ctx, f.store.DB, f.video.VideoID)
	require.NoError(t, err)
	assert.Equal(t, 1, cp.CurrentBatch)
	assert.InDelta(t, 1.5, cp.SessionCost, 1e-9)
	user, err = queries.FindUserByID(ctx, f.store.DB, f.user.UserID)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, user.MonthlyCost, 1e-9)
}
