package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/narcissus123/continuity/pkg/apperr"
	"github.com/narcissus123/continuity/pkg/db"
	"github.com/narcissus123/continuity/pkg/db/queries"
	"github.com/narcissus123/continuity/pkg/llm"
	"github.com/narcissus123/continuity/pkg/metrics"
	"github.com/narcissus123/continuity/pkg/session"
	log "github.com/sirupsen/logrus"
)

// DefaultBatchSize is the number of images generated per batch.
const DefaultBatchSize = 5

// StepResult describes what one Step did.
type StepResult struct {
	Ran         string   `json:"ran"`
	Next        string   `json:"next"`
	SceneCount  int      `json:"scene_count,omitempty"`
	BatchNumber int      `json:"batch_number,omitempty"`
	ImageIDs    []string `json:"image_ids,omitempty"`
	Cost        float64  `json:"cost,omitempty"`
	Yielded     bool     `json:"yielded,omitempty"`
}

// Coordinator advances a video session through its phases. Every state
// change is checkpointed before the session is saved.
type Coordinator struct {
	store     *db.Store
	sessions  session.Store
	generator llm.Generator
	renderer  Renderer
	batchSize int
	now       func() time.Time
}

func NewCoordinator(store *db.Store, sessions session.Store, generator llm.Generator, renderer Renderer, batchSize int) *Coordinator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Coordinator{
		store:     store,
		sessions:  sessions,
		generator: generator,
		renderer:  renderer,
		batchSize: batchSize,
		now:       time.Now,
	}
}

// Step runs exactly one phase: the one PhaseOf reports. When want is not
// nil it must name that phase.
func (c *Coordinator) Step(ctx context.Context, sess *session.Session, want *Phase) (*StepResult, error) {
	p := sess.State.Progress
	if p == nil {
		return nil, apperr.NotFound("No video is selected.")
	}
	video, err := c.ownedVideo(ctx, sess)
	if err != nil {
		return nil, err
	}

	phase := PhaseOf(p)
	if want != nil && *want != phase {
		return nil, apperr.New(apperr.ReasonPhaseOrder,
			fmt.Sprintf("The %s phase must run before %s.", phase, *want))
	}

	result := &StepResult{Ran: phase.String()}
	switch phase {
	case PhaseScript:
		err = c.runScript(ctx, video, p)
	case PhaseScenes:
		err = c.runScenes(ctx, video, p, result)
	case PhaseImageBatches:
		err = c.runImageBatch(ctx, sess, p, result)
	case PhaseComplete:
		err = c.runComplete(ctx, video, p)
	}
	metrics.WorkflowStepsTotal.WithLabelValues(phase.String(), metrics.Outcome(err)).Inc()
	if err != nil {
		return nil, err
	}

	next := PhaseOf(p)
	if err := Guard(phase, next); err != nil {
		log.Errorf("Phase %s left progress in %s for video %s", phase, next, video.VideoID)
		return nil, err
	}
	result.Next = next.String()

	if err := c.persist(ctx, sess); err != nil {
		return nil, err
	}
	log.Infof("Video %s ran %s, next is %s", video.VideoID, phase, next)
	return result, nil
}

func (c *Coordinator) runScript(ctx context.Context, video *db.Video, p *session.Progress) error {
	script, err := c.generator.GenerateScript(ctx, video.Title)
	if err != nil {
		return apperr.Internal("Could not write the script.", err)
	}
	if err := queries.UpdateVideoScript(ctx, c.store.DB, video.VideoID, script); err != nil {
		return apperr.Internal("Could not save the script.", err)
	}
	p.ScriptCompleted = true
	return nil
}

func (c *Coordinator) runScenes(ctx context.Context, video *db.Video, p *session.Progress, result *StepResult) error {
	if !video.Script.Valid || video.Script.String == "" {
		return apperr.New(apperr.ReasonPhaseOrder, "The video has no script yet.")
	}
	drafts, err := c.generator.SplitScenes(ctx, video.Script.String)
	if err != nil {
		return apperr.Internal("Could not break the script into scenes.", err)
	}

	scenes := make([]db.Scene, len(drafts))
	for i, d := range drafts {
		scenes[i] = db.Scene{SceneNumber: i + 1, VisualDescription: d.VisualDescription, Voiceover: db.NullString(d.Voiceover)}
	}
	err = c.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		_, err := queries.CreateScenes(ctx, tx, video.VideoID, scenes)
		return err
	})
	if err != nil {
		return apperr.Internal("Could not save the scenes.", err)
	}

	p.ScenesCompleted = true
	p.TotalScenes = len(scenes)
	p.NextSceneToGenerate = 1
	p.ScenesSummary = p.ScenesSummary[:0]
	for _, s := range scenes {
		p.ScenesSummary = append(p.ScenesSummary, session.SceneSummary{SceneNumber: s.SceneNumber, Summary: session.Summarize(s.VisualDescription)})
	}
	result.SceneCount = len(scenes)
	return nil
}

func (c *Coordinator) runImageBatch(ctx context.Context, sess *session.Session, p *session.Progress, result *StepResult) error {
	videoID := p.SelectedVideoID
	scenes, err := queries.ListScenesByVideo(ctx, c.store.DB, videoID)
	if err != nil {
		return apperr.Internal("Could not load scenes.", err)
	}
	if len(scenes) == 0 {
		return apperr.New(apperr.ReasonPhaseOrder, "The video has no scenes yet.")
	}
	images, err := queries.ListImagesForVideo(ctx, c.store.DB, videoID)
	if err != nil {
		return apperr.Internal("Could not load images.", err)
	}

	covered := make(map[int]bool)
	for _, img := range images {
		if img.Status != db.ImageStatusRejected {
			covered[img.SceneNumber] = true
		}
	}

	var batch []db.Scene
	for _, s := range scenes {
		if s.SceneNumber >= p.NextSceneToGenerate && !covered[s.SceneNumber] {
			batch = append(batch, s)
		}
		if len(batch) == c.batchSize {
			break
		}
	}
	if len(batch) == 0 {
		return apperr.New(apperr.ReasonConflict, "Images are waiting for review.")
	}

	// Render everything before writing anything so a failed batch leaves
	// the store, the checkpoint and the session unchanged.
	rendered := make([]*db.Image, 0, len(batch))
	var cost float64
	for _, s := range batch {
		prior, err := queries.CountImagesForScene(ctx, c.store.DB, s.SceneID)
		if err != nil {
			return apperr.Internal("Could not count earlier attempts.", err)
		}
		attempt := prior + 1
		out, err := c.renderer.Render(ctx, RenderRequest{
			VideoID:                videoID,
			SceneNumber:            s.SceneNumber,
			Description:            s.VisualDescription,
			CharacterReferencePath: p.CharacterReferencePath,
			Attempt:                attempt,
		})
		if err != nil {
			return apperr.Internal(fmt.Sprintf("Could not generate an image for scene %d.", s.SceneNumber), err)
		}
		rendered = append(rendered, &db.Image{
			SceneID:              s.SceneID,
			ImagePath:            out.ImagePath,
			IsCharacterReference: p.CharacterReferencePath == "" && s.SceneNumber == scenes[0].SceneNumber,
			AttemptNumber:        attempt,
			GenerationCost:       out.Cost,
		})
		cost += out.Cost
	}

	err = c.store.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, img := range rendered {
			if _, err := queries.CreateImage(ctx, tx, img); err != nil {
				return err
			}
			if err := queries.AddVideoImageCost(ctx, tx, videoID, img.GenerationCost); err != nil {
				return err
			}
		}
		return queries.AddUserCost(ctx, tx, sess.UserID, cost)
	})
	if err != nil {
		return apperr.Internal("Could not record the generated images.", err)
	}

	p.CurrentBatchNumber++
	result.BatchNumber = p.CurrentBatchNumber
	for _, img := range rendered {
		p.ImagesInProgress = append(p.ImagesInProgress, img.ImageID)
		result.ImageIDs = append(result.ImageIDs, img.ImageID)
	}
	p.SessionCost += cost
	sess.State.Identity.LifetimeCost += cost
	result.Cost = cost
	return nil
}

func (c *Coordinator) runComplete(ctx context.Context, video *db.Video, p *session.Progress) error {
	if video.Status != db.VideoStatusCompleted {
		if err := queries.UpdateVideoStatus(ctx, c.store.DB, video.VideoID, db.VideoStatusCompleted); err != nil {
			return apperr.Internal("Could not mark the video complete.", err)
		}
	}
	p.Phase = db.VideoStatusCompleted
	p.ImagesInProgress = []string{}
	return nil
}

// Review approves or rejects a generated image and recomputes the next
// scene to generate.
func (c *Coordinator) Review(ctx context.Context, sess *session.Session, imageID string, approve bool, reason string) (*db.SceneImage, error) {
	p := sess.State.Progress
	if p == nil {
		return nil, apperr.NotFound("No video is selected.")
	}
	img, err := queries.FindImageByID(ctx, c.store.DB, imageID)
	if err != nil {
		return nil, apperr.Internal("Could not load the image.", err)
	}
	if img == nil || img.VideoID != p.SelectedVideoID {
		return nil, apperr.NotFound("Image not found.")
	}
	if img.Status != db.ImageStatusPending {
		return nil, apperr.New(apperr.ReasonConflict, fmt.Sprintf("The image was already %s.", img.Status))
	}

	status := db.ImageStatusRejected
	if approve {
		status = db.ImageStatusApproved
	}
	if err := queries.SetImageStatus(ctx, c.store.DB, imageID, status, reason); err != nil {
		return nil, apperr.Internal("Could not update the image.", err)
	}
	img.Status = status

	if approve && img.IsCharacterReference {
		p.CharacterReferencePath = img.ImagePath
	}
	p.ImagesInProgress = without(p.ImagesInProgress, imageID)

	scenes, err := queries.ListScenesByVideo(ctx, c.store.DB, p.SelectedVideoID)
	if err != nil {
		return nil, apperr.Internal("Could not load scenes.", err)
	}
	approved, err := queries.ApprovedSceneNumbers(ctx, c.store.DB, p.SelectedVideoID)
	if err != nil {
		return nil, apperr.Internal("Could not load approved images.", err)
	}
	p.NextSceneToGenerate = session.NextScene(scenes, approved)

	if err := c.persist(ctx, sess); err != nil {
		return nil, err
	}
	return img, nil
}

// Pause checkpoints progress and yields control back to the caller.
func (c *Coordinator) Pause(ctx context.Context, sess *session.Session) (*StepResult, error) {
	if sess.State.Progress == nil {
		return nil, apperr.NotFound("No video is selected.")
	}
	if err := c.persist(ctx, sess); err != nil {
		return nil, err
	}
	return &StepResult{Next: PhaseOf(sess.State.Progress).String(), Yielded: true}, nil
}

// Checkpoint flushes progress without saving the session.
func (c *Coordinator) Checkpoint(ctx context.Context, sess *session.Session) (*db.Checkpoint, error) {
	return session.WriteCheckpoint(ctx, c.store.DB, sess.State.SelectedVideoID(), &sess.State, c.now())
}

func (c *Coordinator) persist(ctx context.Context, sess *session.Session) error {
	if _, err := c.Checkpoint(ctx, sess); err != nil {
		return err
	}
	sess.State.EndTurn(c.now())
	if err := c.sessions.Save(ctx, sess); err != nil {
		return apperr.Internal("Could not save the session.", err)
	}
	return nil
}

func (c *Coordinator) ownedVideo(ctx context.Context, sess *session.Session) (*db.Video, error) {
	video, err := queries.FindVideoForUser(ctx, c.store.DB, sess.State.SelectedVideoID(), sess.UserID)
	if err != nil {
		return nil, apperr.Internal("Could not load the video.", err)
	}
	if video == nil {
		return nil, apperr.NotFound("Video not found.")
	}
	return video, nil
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
