package blob

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// MediaKind groups project uploads under their own prefix.
type MediaKind string

const (
	MediaEvidence MediaKind = "evidence"
	MediaGallery  MediaKind = "gallery"
	MediaProofs   MediaKind = "proofs"
)

// Key returns a fresh object key projects/{projectID}/{kind}/{uuid}{ext}.
func Key(projectID string, kind MediaKind, ext string) (string, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" || strings.ContainsAny(projectID, "/\\") || strings.Contains(projectID, "..") {
		return "", fmt.Errorf("invalid project id %q", projectID)
	}
	switch kind {
	case MediaEvidence, MediaGallery, MediaProofs:
	default:
		return "", fmt.Errorf("unknown media kind %q", kind)
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return path.Join("projects", projectID, string(kind), uuid.NewString()+strings.ToLower(ext)), nil
}

// ProjectPrefix is the key prefix holding every upload of a project.
func ProjectPrefix(projectID string) string {
	return "projects/" + projectID + "/"
}

// Upload is a file to attach to a project.
type Upload struct {
	Data        []byte
	Ext         string
	ContentType string
	Metadata    map[string]string
}

// PutMedia stores u under a fresh key for projectID and kind.
func PutMedia(ctx context.Context, s Store, projectID string, kind MediaKind, u Upload) (Info, error) {
	key, err := Key(projectID, kind, u.Ext)
	if err != nil {
		return Info{}, err
	}
	md := map[string]string{"project": projectID, "kind": string(kind)}
	for k, v := range u.Metadata {
		md[k] = v
	}
	return s.Put(ctx, key, bytes.NewReader(u.Data), PutOptions{ContentType: u.ContentType, Metadata: md})
}

// PurgeProject deletes every upload stored for projectID and returns how
// many objects were removed.
func PurgeProject(ctx context.Context, s Store, projectID string) (int, error) {
	infos, err := s.List(ctx, ProjectPrefix(projectID))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, info := range infos {
		ok, err := s.Delete(ctx, info.Key)
		if err != nil {
			return n, fmt.Errorf("purge %s: %w", info.Key, err)
		}
		if ok {
			n++
		}
	}
	return n, nil
}
