// Package firestore implements vfs.DocStore over the Cloud Firestore REST API.
package firestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/nousos/nous/internal/logging"
	"github.com/nousos/nous/internal/vfs"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	fs "google.golang.org/api/firestore/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Config selects the Firestore database and how to reach it.
type Config struct {
	ProjectID       string
	DatabaseID      string
	CredentialsFile string
	// EmulatorHost ("localhost:8081") bypasses authentication.
	EmulatorHost string
}

// Store is a vfs.DocStore backed by Firestore.
type Store struct {
	svc    *fs.Service
	client *http.Client
	root   string // projects/{p}/databases/{d}/documents
	log    *logging.Logger
}

var _ vfs.DocStore = (*Store)(nil)

// New connects to Firestore. Credentials come from CredentialsFile when
// set, otherwise from Application Default Credentials.
func New(ctx context.Context, cfg Config, log *logging.Logger) (*Store, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firestore: project id is required")
	}
	if cfg.DatabaseID == "" {
		cfg.DatabaseID = "(default)"
	}

	client, err := httpClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if cfg.EmulatorHost != "" {
		opts = append(opts, option.WithEndpoint("http://"+strings.TrimPrefix(cfg.EmulatorHost, "http://")+"/"))
	}
	svc, err := fs.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("firestore: creating service: %w", err)
	}

	log = log.Sub("firestore")
	log.Info().Str("project", cfg.ProjectID).Str("database", cfg.DatabaseID).
		Bool("emulator", cfg.EmulatorHost != "").Msg("firestore store ready")

	return &Store{
		svc:    svc,
		client: client,
		root:   fmt.Sprintf("projects/%s/databases/%s/documents", cfg.ProjectID, cfg.DatabaseID),
		log:    log,
	}, nil
}

func httpClient(ctx context.Context, cfg Config) (*http.Client, error) {
	if cfg.EmulatorHost != "" {
		return &http.Client{}, nil
	}
	if cfg.CredentialsFile != "" {
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("firestore: reading credentials: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, fs.DatastoreScope)
		if err != nil {
			return nil, fmt.Errorf("firestore: parsing credentials: %w", err)
		}
		return oauth2.NewClient(ctx, creds.TokenSource), nil
	}
	client, err := google.DefaultClient(ctx, fs.DatastoreScope)
	if err != nil {
		return nil, fmt.Errorf("firestore: default credentials: %w", err)
	}
	return client, nil
}

func (s *Store) docName(collection, id string) string {
	return s.root + "/" + collection + "/" + id
}

// Get reads the document over plain REST so zero-valued scalars keep
// their type; the generated Value type drops that distinction.
func (s *Store) Get(ctx context.Context, collection, id string) (map[string]any, error) {
	url := s.svc.BasePath + "v1/" + s.docName(collection, id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("firestore: get %s/%s: %w", collection, id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, vfs.ErrNotFound
	}
	if err := googleapi.CheckResponse(resp); err != nil {
		return nil, fmt.Errorf("firestore: get %s/%s: %w", collection, id, err)
	}

	var doc wireDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("firestore: decoding %s/%s: %w", collection, id, err)
	}
	return fromWireFields(doc.Fields)
}

// Set patches the document. A merge sends the leaf paths of data as the
// update mask so untouched fields, nested ones included, are preserved.
func (s *Store) Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	fields, err := toFields(data)
	if err != nil {
		return err
	}
	name := s.docName(collection, id)
	call := s.svc.Projects.Databases.Documents.Patch(name, &fs.Document{Fields: fields}).Context(ctx)

	if merge {
		leaves := vfs.LeafPaths(data)
		if len(leaves) == 0 {
			return s.touch(ctx, collection, id)
		}
		mask := make([]string, len(leaves))
		for i, l := range leaves {
			mask[i] = quoteFieldPath(l)
		}
		call = call.UpdateMaskFieldPaths(mask...)
	}

	if _, err := call.Do(); err != nil {
		return fmt.Errorf("firestore: set %s/%s: %w", collection, id, err)
	}
	return nil
}

// touch creates an empty document unless one exists.
func (s *Store) touch(ctx context.Context, collection, id string) error {
	_, err := s.Get(ctx, collection, id)
	if !errors.Is(err, vfs.ErrNotFound) {
		return err
	}
	return s.Set(ctx, collection, id, map[string]any{}, false)
}

func (s *Store) List(ctx context.Context, collection string) ([]string, error) {
	parent, collID := path.Split(collection)
	parent = strings.TrimSuffix(s.root+"/"+parent, "/")

	var ids []string
	err := s.svc.Projects.Databases.Documents.List(parent, collID).
		Context(ctx).
		ShowMissing(false).
		Pages(ctx, func(page *fs.ListDocumentsResponse) error {
			for _, d := range page.Documents {
				ids = append(ids, path.Base(d.Name))
			}
			return nil
		})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("firestore: list %s: %w", collection, err)
	}
	return ids, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.svc.Projects.Databases.Documents.Delete(s.docName(collection, id)).Context(ctx).Do()
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("firestore: delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}
