package gateway

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Key template placeholders resolved by ResolveKey.
const (
	PlaceholderRunID     = "{run_id}"
	PlaceholderTimestamp = "{timestamp}"

	keyTimestampLayout = "20060102T150405Z"
	objectPathPrefix   = "api/s3"
)

// Destination names where a manifest is stored behind the gateway.
type Destination struct {
	BaseURL string
	Bucket  string
	Key     string
}

// Validate checks that every part of the destination is usable.
func (d Destination) Validate() error {
	if d.BaseURL == "" {
		return errors.New("gateway base URL is required")
	}
	u, err := url.Parse(d.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid gateway base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("gateway base URL must be http or https, got %q", d.BaseURL)
	}
	if d.Bucket == "" || strings.Contains(d.Bucket, "/") {
		return fmt.Errorf("invalid bucket %q", d.Bucket)
	}
	if strings.Trim(d.Key, "/") == "" {
		return errors.New("object key is required")
	}
	if strings.Contains(d.Key, "{") {
		return fmt.Errorf("object key %q has unresolved placeholders", d.Key)
	}
	return nil
}

// ObjectKey is the bucket-qualified key, as reported to users.
func (d Destination) ObjectKey() string {
	return d.Bucket + "/" + strings.TrimPrefix(d.Key, "/")
}

// ObjectURL returns {base}/api/s3/{bucket}/{key} with each path segment
// escaped.
func (d Destination) ObjectURL() (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	segments := strings.Split(strings.Trim(d.Key, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.TrimRight(d.BaseURL, "/") + "/" + objectPathPrefix + "/" +
		url.PathEscape(d.Bucket) + "/" + strings.Join(segments, "/"), nil
}

// ResolveKey fills the run id and timestamp placeholders of a key template,
// giving parallel CI runs distinct keys.
func ResolveKey(template, runID string, ts time.Time) string {
	return strings.NewReplacer(
		PlaceholderRunID, runID,
		PlaceholderTimestamp, ts.UTC().Format(keyTimestampLayout),
	).Replace(template)
}
