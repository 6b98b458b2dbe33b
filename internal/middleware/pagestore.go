package middleware

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"

	"rccrawler/internal/browser"
	"rccrawler/internal/logging"
)

const (
	// query values at least this long (summed per key) are dropped from keys
	queryValueMaxLength = 30
	// filesystem limit on a single path component
	maxKeyNameLength = 256
)

// ErrKeyTooLong is returned when a concise url still does not fit a filename
var ErrKeyTooLong = errors.New("page key exceeds filesystem name limit")

// OpenBucket opens a page bucket. Plain paths and file:// urls are opened as
// directories, created when missing; file://./pages is relative to the
// working directory. Other urls (mem://, s3://) go through gocloud.dev.
func OpenBucket(ctx context.Context, spec string) (*blob.Bucket, error) {
	dir := spec
	if strings.Contains(spec, "://") {
		u, err := url.Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("invalid bucket url %s: %w", spec, err)
		}
		if u.Scheme != "file" {
			b, err := blob.OpenBucket(ctx, spec)
			if err != nil {
				return nil, fmt.Errorf("failed to open bucket %s: %w", spec, err)
			}
			return b, nil
		}
		dir = localPath(u)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create page directory: %w", err)
	}
	b, err := fileblob.OpenBucket(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open page directory %s: %w", dir, err)
	}
	return b, nil
}

// localPath turns a file url into a filesystem path; a "." host marks a
// relative path
func localPath(u *url.URL) string {
	if u.Host == "." {
		return filepath.FromSlash("." + u.Path)
	}
	return filepath.FromSlash(u.Path)
}

// ConciseURL shortens u to its path plus the short query parameters
func ConciseURL(u *url.URL) string {
	kept := url.Values{}
	for k, vs := range u.Query() {
		total := 0
		var nonBlank []string
		for _, v := range vs {
			if v == "" {
				continue
			}
			total += len(v)
			nonBlank = append(nonBlank, v)
		}
		if len(nonBlank) > 0 && total < queryValueMaxLength {
			kept[k] = nonBlank
		}
	}
	if qs := kept.Encode(); qs != "" {
		return u.Path + "?" + qs
	}
	return u.Path
}

// PlatformFromHost guesses the platform from a host name: the second label
// when there are more than two, else the first.
func PlatformFromHost(host string) string {
	labels := strings.Split(host, ".")
	if len(labels) > 2 {
		return labels[1]
	}
	return labels[0]
}

// PageKey returns <platform>/<run timestamp>/<urlsafe base64 concise url>
func PageKey(rawURL string, runTimestamp int64) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	name := base64.URLEncoding.EncodeToString([]byte(ConciseURL(u)))
	if len(name) >= maxKeyNameLength {
		return "", fmt.Errorf("%w: %d characters for %s", ErrKeyTooLong, len(name), rawURL)
	}
	return fmt.Sprintf("%s/%d/%s", PlatformFromHost(u.Hostname()), runTimestamp, name), nil
}

// PageStore saves every successfully fetched page to bucket and serves
// requests that allow it from there.
func PageStore(bucket *blob.Bucket, runTimestamp int64) Middleware {
	log := logging.For("persist")
	return func(next DownloadFunc) DownloadFunc {
		return func(ctx context.Context, req browser.Request) browser.Result {
			full, err := req.FullURL()
			if err != nil {
				return browser.Result{Outcome: browser.Failure, Reason: err.Error()}
			}
			key, err := PageKey(full, runTimestamp)
			if err != nil {
				return browser.Result{Outcome: browser.Failure, Reason: err.Error()}
			}

			if req.ReadFromCache {
				content, err := bucket.ReadAll(ctx, key)
				switch {
				case err == nil:
					log.Info("reading from store instead of fetching", "key", key, "url", full)
					return browser.Result{Outcome: browser.Success, Content: content, Status: 200, FromCache: true}
				case gcerrors.Code(err) != gcerrors.NotFound:
					log.Warn("failed to read stored page", "key", key, "error", err)
				}
			}

			result := next(ctx, req)
			result.FromCache = false

			if result.Outcome == browser.Success && !req.Binary {
				log.Debug("saving page", "key", key, "url", full)
				if err := bucket.WriteAll(ctx, key, result.Content, &blob.WriterOptions{ContentType: "text/html; charset=utf-8"}); err != nil {
					log.Error("failed to store page", "key", key, "error", err)
				}
			}
			return result
		}
	}
}
