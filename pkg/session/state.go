package session

import "time"

// DefaultName is used when the user never gave a display name.
const DefaultName = "there"

// SummaryLimit caps each per-scene summary kept in state.
const SummaryLimit = 120

// Identity survives across videos for the same logged-in user.
type Identity struct {
	VerifiedUserID string  `json:"verified_user_id,omitempty"`
	Email          string  `json:"email,omitempty"`
	Name           string  `json:"name,omitempty"`
	LifetimeCost   float64 `json:"lifetime_cost"`
}

// SceneSummary is a short description of one scene for quick display.
type SceneSummary struct {
	SceneNumber int    `json:"scene_number"`
	Summary     string `json:"summary"`
}

// Progress is per-video workflow progress. It is replaced wholesale when a
// different video is selected.
type Progress struct {
	WorkflowID             string         `json:"workflow_id"`
	SelectedVideoID        string         `json:"selected_video_id"`
	Phase                  string         `json:"phase"`
	ScriptCompleted        bool           `json:"script_completed"`
	ScenesCompleted        bool           `json:"scenes_completed"`
	NextSceneToGenerate    int            `json:"next_scene_to_generate"`
	TotalScenes            int            `json:"total_scenes"`
	ImagesInProgress       []string       `json:"images_in_progress"`
	CurrentBatchNumber     int            `json:"current_batch_number"`
	CharacterReferencePath string         `json:"character_reference_path,omitempty"`
	SessionCost            float64        `json:"session_cost"`
	ScenesSummary          []SceneSummary `json:"scenes_summary,omitempty"`
	LastUpdatedAt          time.Time      `json:"last_updated_at"`
}

// Scratch holds values that must not outlive the turn that consumes them.
type Scratch struct {
	PendingUserName string `json:"pending_user_name,omitempty"`
}

// State is the full workflow-session state.
type State struct {
	Identity  Identity  `json:"identity"`
	Progress  *Progress `json:"progress,omitempty"`
	Scratch   Scratch   `json:"scratch"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Authenticated reports whether a verified user is bound to the state.
func (s *State) Authenticated() bool {
	return s.Identity.VerifiedUserID != ""
}

// SetIdentity binds a verified user. An empty name falls back to DefaultName.
func (s *State) SetIdentity(userID, email, name string, lifetimeCost float64) {
	if name == "" {
		name = DefaultName
	}
	s.Identity = Identity{VerifiedUserID: userID, Email: email, Name: name, LifetimeCost: lifetimeCost}
}

// SelectVideo starts fresh progress for videoID. Identity is kept.
func (s *State) SelectVideo(videoID string) {
	s.Progress = &Progress{SelectedVideoID: videoID, NextSceneToGenerate: 1, ImagesInProgress: []string{}}
}

// ClearVideo drops all per-video progress.
func (s *State) ClearVideo() {
	s.Progress = nil
}

// SelectedVideoID returns the selected video or "".
func (s *State) SelectedVideoID() string {
	if s.Progress == nil {
		return ""
	}
	return s.Progress.SelectedVideoID
}

func (s *State) SetPendingName(name string) {
	s.Scratch.PendingUserName = name
}

// TakePendingName returns the pending name and clears it.
func (s *State) TakePendingName() string {
	name := s.Scratch.PendingUserName
	s.Scratch.PendingUserName = ""
	return name
}

// EndTurn clears scratch values and stamps the state.
func (s *State) EndTurn(now time.Time) {
	s.Scratch = Scratch{}
	s.UpdatedAt = now.UTC()
}

// Flatten renders the state as the flat key namespace read by the workflow
// router: user:* for identity, temp:* for progress and scratch.
func (s *State) Flatten() map[string]interface{} {
	out := map[string]interface{}{
		"user:verified_user_id": s.Identity.VerifiedUserID,
		"user:email":            s.Identity.Email,
		"user:name":             s.Identity.Name,
		"user:lifetime_cost":    s.Identity.LifetimeCost,
	}
	if s.Scratch.PendingUserName != "" {
		out["temp:pending_user_name"] = s.Scratch.PendingUserName
	}
	if p := s.Progress; p != nil {
		out["temp:workflow_id"] = p.WorkflowID
		out["temp:selected_video_id"] = p.SelectedVideoID
		out["temp:current_phase"] = p.Phase
		out["temp:script_completed"] = p.ScriptCompleted
		out["temp:scenes_completed"] = p.ScenesCompleted
		out["temp:next_scene_to_generate"] = p.NextSceneToGenerate
		out["temp:total_scenes"] = p.TotalScenes
		out["temp:images_in_progress"] = p.ImagesInProgress
		out["temp:current_batch_number"] = p.CurrentBatchNumber
		out["temp:character_reference_path"] = p.CharacterReferencePath
		out["temp:session_cost"] = p.SessionCost
		out["temp:scenes_summary"] = p.ScenesSummary
		out["temp:last_updated_at"] = p.LastUpdatedAt.Format(time.RFC3339)
	}
	return out
}

// Summarize truncates text to SummaryLimit runes.
func Summarize(text string) string {
	r := []rune(text)
	if len(r) <= SummaryLimit {
		return text
	}
	return string(r[:SummaryLimit])
}
