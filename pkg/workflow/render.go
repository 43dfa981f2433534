package workflow

import (
	"context"
	"fmt"
	"path"
)

// RenderRequest asks for one image of a scene.
type RenderRequest struct {
	VideoID                string
	SceneNumber            int
	Description            string
	CharacterReferencePath string
	Attempt                int
}

type RenderResult struct {
	ImagePath string
	Cost      float64
}

// Renderer generates scene images.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (RenderResult, error)
}

// StubRenderer returns deterministic paths without generating anything.
type StubRenderer struct {
	Root         string
	CostPerImage float64
}

func (r StubRenderer) Render(ctx context.Context, req RenderRequest) (RenderResult, error) {
	if err := ctx.Err(); err != nil {
		return RenderResult{}, err
	}
	root := r.Root
	if root == "" {
		root = "renders"
	}
	name := fmt.Sprintf("scene_%03d_attempt_%d.png", req.SceneNumber, req.Attempt)
	return RenderResult{ImagePath: path.Join(root, req.VideoID, name), Cost: r.CostPerImage}, nil
}
