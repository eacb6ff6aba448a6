// Package r2s3 uploads finished artifacts (volume files, renders, exports)
// to an S3-compatible bucket such as Cloudflare R2, signing each PUT with
// AWS Signature Version 4.
package r2s3

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"sort"
	"strings"
	"time"
)

const (
	sigV4Algorithm = "AWS4-HMAC-SHA256"
	sigV4Service   = "s3"
	sigV4Terminal  = "aws4_request"

	// DefaultRegion is what R2 expects; AWS buckets need their real region.
	DefaultRegion = "auto"
)

// UploadError is a non-2xx answer from the bucket.
type UploadError struct {
	Key  string
	Code int
	Body string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("put %s: status=%d body=%s", e.Key, e.Code, e.Body)
}

// Temporary reports whether repeating the upload may succeed.
func (e *UploadError) Temporary() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout
}

type Client struct {
	base       *url.URL
	bucket     string
	region     string
	keyID      string
	secret     string
	httpClient *http.Client
	now        func() time.Time
}

type Option func(*Client)

func WithRegion(region string) Option {
	return func(c *Client) {
		if region = strings.TrimSpace(region); region != "" {
			c.region = region
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New builds a client for path-style requests against endpoint. A bare host
// is treated as https.
func New(endpoint, bucket, accessKeyID, secretAccessKey string, opts ...Option) (*Client, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	bucket = strings.Trim(strings.TrimSpace(bucket), "/")
	accessKeyID = strings.TrimSpace(accessKeyID)
	secretAccessKey = strings.TrimSpace(secretAccessKey)

	var missing []string
	for name, v := range map[string]string{"endpoint": endpoint, "bucket": bucket, "access key id": accessKeyID, "secret access key": secretAccessKey} {
		if v == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("r2s3: missing %s", strings.Join(missing, ", "))
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint: %s", endpoint)
	}

	c := &Client{
		base:       u,
		bucket:     bucket,
		region:     DefaultRegion,
		keyID:      accessKeyID,
		secret:     secretAccessKey,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) Bucket() string { return c.bucket }

// ContentType picks the object content type from the artifact name.
func ContentType(name string) string {
	switch path.Ext(name) {
	case ".png":
		return "image/png"
	case ".zst":
		return "application/zstd"
	case ".schem":
		return "application/gzip"
	case ".vti":
		return "application/xml"
	case ".json":
		return "application/json"
	}
	return "application/octet-stream"
}

// objectURL is the path-style URL of key.
func (c *Client) objectURL(key string) *url.URL {
	u := *c.base
	segs := append([]string{c.bucket}, strings.Split(key, "/")...)
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	u.RawPath = strings.TrimRight(u.Path, "/") + "/" + strings.Join(segs, "/")
	u.Path, _ = url.PathUnescape(u.RawPath)
	return &u
}

// PutFile uploads localPath as objectKey. The file is read twice: once to
// hash the payload for the signature, once as the body.
func (c *Client) PutFile(ctx context.Context, objectKey, localPath string) error {
	key := cleanKey(objectKey)
	if key == "" {
		return fmt.Errorf("invalid object key %q", objectKey)
	}
	sum, size, err := hashFile(localPath)
	if err != nil {
		return err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.objectURL(key).String(), f)
	if err != nil {
		return err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", ContentType(key))
	c.sign(req, sum, c.now().UTC())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8*1024))
	return &UploadError{Key: key, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// sign adds x-amz-date, x-amz-content-sha256 and Authorization. Host,
// Content-Type and every x-amz-* header are signed.
func (c *Client) sign(req *http.Request, payloadHash string, now time.Time) {
	amzDate := now.Format("20060102T150405Z")
	day := amzDate[:8]
	req.Header.Set("x-amz-date", amzDate)
	req.Header.Set("x-amz-content-sha256", payloadHash)

	headers := map[string]string{"host": req.URL.Host}
	for name, vals := range req.Header {
		lower := strings.ToLower(name)
		if lower == "content-type" || strings.HasPrefix(lower, "x-amz-") {
			headers[lower] = strings.TrimSpace(strings.Join(vals, ","))
		}
	}
	names := make([]string, 0, len(headers))
	for n := range headers {
		names = append(names, n)
	}
	sort.Strings(names)

	var canon strings.Builder
	for _, n := range names {
		canon.WriteString(n + ":" + headers[n] + "\n")
	}
	signed := strings.Join(names, ";")

	creq := req.Method + "\n" +
		req.URL.EscapedPath() + "\n" +
		req.URL.RawQuery + "\n" +
		canon.String() + "\n" +
		signed + "\n" +
		payloadHash

	scope := day + "/" + c.region + "/" + sigV4Service + "/" + sigV4Terminal
	toSign := sigV4Algorithm + "\n" + amzDate + "\n" + scope + "\n" + sha256Hex([]byte(creq))
	sig := hex.EncodeToString(hmacSHA256(deriveSigningKey(c.secret, day, c.region, sigV4Service), []byte(toSign)))

	req.Header.Set("Authorization", sigV4Algorithm+
		" Credential="+c.keyID+"/"+scope+
		", SignedHeaders="+signed+
		", Signature="+sig)
}

// cleanKey turns a relative slash or backslash path into a bucket key.
// Keys escaping the root are rejected.
func cleanKey(key string) string {
	key = strings.TrimSpace(strings.ReplaceAll(key, `\`, "/"))
	if key == "" {
		return ""
	}
	clean := strings.TrimPrefix(path.Clean("/"+key), "/")
	if clean == "" || clean == "." {
		return ""
	}
	return clean
}

func hashFile(p string) (string, int64, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return "", 0, err
	}
	if st.IsDir() {
		return "", 0, fmt.Errorf("%s is a directory", p)
	}
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func deriveSigningKey(secret, day, region, service string) []byte {
	k := hmacSHA256([]byte("AWS4"+secret), []byte(day))
	for _, part := range []string{region, service, sigV4Terminal} {
		k = hmacSHA256(k, []byte(part))
	}
	return k
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}
