// Package localctx keeps the "where was I" pointers of the last run: the
// last signed-in user, and each user's selected video, one small file each.
// Video pointers live under users/<user_id>/ so users never see each
// other's selection.
package localctx

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/narcissus123/continuity/pkg/db"
	"github.com/narcissus123/continuity/pkg/db/queries"
	log "github.com/sirupsen/logrus"
)

const (
	userFile  = "current_user_id"
	videoFile = "current_video_id"
	usersDir  = "users"
)

type Pointers struct {
	Dir string
	mu  sync.Mutex
}

func New(dir string) *Pointers {
	return &Pointers{Dir: dir}
}

func (p *Pointers) SaveUser(userID string) error { return p.write(userFile, userID) }
func (p *Pointers) LoadUser() (string, error)    { return p.read(userFile) }
func (p *Pointers) ClearUser() error             { return p.remove(userFile) }

func (p *Pointers) SaveVideo(userID, videoID string) error {
	name, err := videoPointer(userID)
	if err != nil {
		return err
	}
	return p.write(name, videoID)
}

func (p *Pointers) LoadVideo(userID string) (string, error) {
	name, err := videoPointer(userID)
	if err != nil {
		return "", err
	}
	return p.read(name)
}

func (p *Pointers) ClearVideo(userID string) error {
	name, err := videoPointer(userID)
	if err != nil {
		return err
	}
	return p.remove(name)
}

func videoPointer(userID string) (string, error) {
	if userID == "" || userID == "." || userID == ".." || strings.ContainsAny(userID, `/\`) {
		return "", fmt.Errorf("invalid user id %q for video pointer", userID)
	}
	return filepath.Join(usersDir, userID, videoFile), nil
}

func (p *Pointers) write(name, value string) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	path := filepath.Join(p.Dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create context dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(value), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

// read returns "" when the pointer is absent.
func (p *Pointers) read(name string) (string, error) {
	if p == nil {
		return "", nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	raw, err := os.ReadFile(filepath.Join(p.Dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func (p *Pointers) remove(name string) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.Remove(filepath.Join(p.Dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

// Restored is what Bootstrap recovered from the previous run.
type Restored struct {
	User *db.User
	// VideoID is the restored user's selection.
	VideoID string
	// Stale is set when a user pointer existed but named no known user.
	Stale bool
}

// Bootstrap loads the pointers and checks the user against the store. A user
// pointer with no matching record is removed.
func Bootstrap(ctx context.Context, store *db.Store, p *Pointers) (*Restored, error) {
	out := &Restored{}

	userID, err := p.LoadUser()
	if err != nil {
		return nil, err
	}
	if userID != "" {
		user, err := queries.FindUserByID(ctx, store.DB, userID)
		if err != nil {
			return nil, err
		}
		if user == nil {
			log.Warnf("Context pointer names unknown user '%s', clearing it", userID)
			if err := p.ClearUser(); err != nil {
				return nil, err
			}
			out.Stale = true
		} else {
			out.User = user
		}
	}
	if out.User == nil {
		return out, nil
	}

	videoID, err := p.LoadVideo(out.User.UserID)
	if err != nil {
		return nil, err
	}
	out.VideoID = videoID
	return out, nil
}
