package cli

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nousos/nous/internal/auth"
	"github.com/nousos/nous/internal/config"
	"github.com/nousos/nous/internal/hooks"
	"github.com/nousos/nous/internal/store"
	"github.com/nousos/nous/internal/vfs"
	"github.com/nousos/nous/internal/vfs/firestore"
	"github.com/nousos/nous/internal/vfs/gcs"
)

// backend is the storage wiring shared by serve and the offline commands.
type backend struct {
	db      *store.DB
	users   *store.UserStore
	docs    vfs.DocStore // documents, and the audit trail in blob mode
	mounter *vfs.Mounter
	desc    string
}

// loadConfig reads and validates the config file.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}

// openBackend opens the account database and the VFS backend the config
// selects. Documents go to sqlite, memory or Firestore; when a blob backend
// is configured the VFS is served from blobs instead.
func openBackend(ctx context.Context, cfg config.Config, hm *hooks.Manager) (*backend, error) {
	if err := paths.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("creating directories: %w", err)
	}

	dbPath := paths.DatabasePath(cfg.Storage)
	if cfg.Storage.Backend == "memory" {
		dbPath = ":memory:"
	}
	db, err := store.Open(dbPath, log)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	b := &backend{db: db, users: store.NewUserStore(db)}

	switch cfg.Storage.Backend {
	case "memory":
		b.docs = vfs.NewMemoryStore()
		b.desc = "memory"
	case "firestore":
		fc := cfg.Storage.Firestore
		fsStore, err := firestore.New(ctx, firestore.Config{
			ProjectID:       fc.ProjectID,
			DatabaseID:      fc.DatabaseID,
			CredentialsFile: fc.CredentialsFile,
			EmulatorHost:    fc.EmulatorHost,
		}, log)
		if err != nil {
			db.Close()
			return nil, err
		}
		b.docs = fsStore
		b.desc = "firestore project=" + fc.ProjectID
	default:
		b.docs = store.NewDocStore(db)
		b.desc = "sqlite " + dbPath
	}

	opts := vfs.Options{Encrypt: cfg.VFS.Encrypt, Hooks: hm, Log: log}
	if cfg.VFS.Encrypt {
		sealer, err := vfs.NewSealer(cfg.VFS.EncryptionKey, cfg.VFS.EncryptPaths)
		if err != nil {
			db.Close()
			return nil, err
		}
		opts.Sealer = sealer
	}

	var blobs vfs.BlobStore
	switch bc := cfg.Storage.Blobs; bc.Backend {
	case "filesystem":
		dir := paths.BlobDir(bc)
		if blobs, err = vfs.NewDirBlobStore(dir); err != nil {
			db.Close()
			return nil, fmt.Errorf("opening blob directory: %w", err)
		}
		b.desc = "blobs " + dir
	case "gcs":
		if blobs, err = gcs.New(ctx, gcs.Config{Bucket: bc.Bucket, CredentialsFile: bc.CredentialsFile, Endpoint: bc.Endpoint}, log); err != nil {
			db.Close()
			return nil, err
		}
		b.desc = "gcs bucket=" + bc.Bucket
	}

	if blobs != nil {
		b.mounter = vfs.NewBlobMounter(blobs, opts)
	} else {
		b.mounter = vfs.NewDocumentMounter(b.docs, opts)
	}
	return b, nil
}

func (b *backend) Close() error {
	return b.db.Close()
}

// resolveUser accepts a user id or an email address.
func (b *backend) resolveUser(ctx context.Context, ref string) (string, error) {
	if strings.Contains(ref, "@") {
		u, err := b.users.ByEmail(ctx, strings.ToLower(ref))
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("no user with email %s", ref)
		}
		if err != nil {
			return "", err
		}
		return u.ID, nil
	}
	if _, err := b.users.ByID(ctx, ref); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("no user with id %s", ref)
		}
		return "", err
	}
	return ref, nil
}

// authService builds the account service over the backend.
func (b *backend) authService(cfg config.Config, hm *hooks.Manager) (*auth.Service, error) {
	signer, err := auth.NewSigner(cfg.Auth.JWTSecret, cfg.Auth.Issuer, time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute)
	if err != nil {
		return nil, err
	}
	return auth.NewService(cfg.Auth.Mode, b.users, store.NewTokenStore(b.db), signer, hm, log)
}

// ensureJWTSecret generates and saves a signing secret when none is
// configured, so sessions survive restarts.
func ensureJWTSecret(cfg *config.Config) error {
	if cfg.Auth.JWTSecret != "" {
		return nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return err
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)

	raw, err := config.LoadRaw(paths.Config)
	if err != nil {
		return err
	}
	config.SetValueAtPath(raw, []string{"auth", "jwtSecret"}, secret)
	if err := config.SaveRaw(paths.Config, raw); err != nil {
		return fmt.Errorf("saving generated jwt secret: %w", err)
	}
	cfg.Auth.JWTSecret = secret
	log.Warn().Str("config", paths.Config).Msg("no auth.jwtSecret configured, generated one")
	return nil
}
