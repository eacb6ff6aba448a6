package r2s3

import (
	"context"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveSigningKeyMatchesAWSExample(t *testing.T) {
	key := deriveSigningKey("wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY", "20120215", "us-east-1", "iam")
	assert.Equal(t, "f4780e2d9f65fa895f9c67b32ce1baf0b0d8a43505a000a1a9e090d414db404d", hex.EncodeToString(key))
}

func TestCleanKey(t *testing.T) {
	assert.Equal(t, "scans/a.vol.zst", cleanKey(`\scans\a.vol.zst`))
	assert.Equal(t, "a/c", cleanKey("a/b/../c"))
	assert.Equal(t, "", cleanKey("   "))
	assert.Equal(t, "", cleanKey("/"))
	assert.Equal(t, "x", cleanKey("../x"))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "image/png", ContentType("renders/iso.png"))
	assert.Equal(t, "application/zstd", ContentType("scans/a.vol.zst"))
	assert.Equal(t, "application/gzip", ContentType("a.schem"))
	assert.Equal(t, "application/octet-stream", ContentType("scan_volume.npy"))
}

func TestPutFileSignsAndUploads(t *testing.T) {
	var (
		gotPath, gotAuth, gotDate, gotType, gotHash string
		gotBody                                     []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotDate = r.Header.Get("x-amz-date")
		gotType = r.Header.Get("Content-Type")
		gotHash = r.Header.Get("x-amz-content-sha256")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(srv.URL, "voxels", "AKID", "SECRET")
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC) }

	local := filepath.Join(t.TempDir(), "iso.png")
	require.NoError(t, os.WriteFile(local, []byte("png-bytes"), 0o644))
	require.NoError(t, c.PutFile(context.Background(), "renders/iso.png", local))

	assert.Equal(t, "/voxels/renders/iso.png", gotPath)
	assert.Equal(t, []byte("png-bytes"), gotBody)
	assert.Equal(t, "20240601T083000Z", gotDate)
	assert.Equal(t, "image/png", gotType)
	assert.Equal(t, sha256Hex([]byte("png-bytes")), gotHash)
	assert.True(t, strings.HasPrefix(gotAuth, "AWS4-HMAC-SHA256 Credential=AKID/20240601/auto/s3/aws4_request, SignedHeaders=content-type;host;x-amz-content-sha256;x-amz-date, Signature="), gotAuth)
}

func TestPutFileReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "AccessDenied", http.StatusForbidden)
	}))
	defer srv.Close()

	c, err := New(srv.URL, "voxels", "AKID", "SECRET", WithRegion("eu-west-1"))
	require.NoError(t, err)
	local := filepath.Join(t.TempDir(), "a.npy")
	require.NoError(t, os.WriteFile(local, []byte{1}, 0o644))

	err = c.PutFile(context.Background(), "a.npy", local)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=403")
	assert.Contains(t, err.Error(), "AccessDenied")

	var ue *UploadError
	require.True(t, errors.As(err, &ue))
	assert.False(t, ue.Temporary())
	assert.True(t, (&UploadError{Code: http.StatusServiceUnavailable}).Temporary())
}

func TestPutFileEscapesKey(t *testing.T) {
	var rawPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawPath = r.URL.EscapedPath()
	}))
	defer srv.Close()

	c, err := New(srv.URL+"/", "voxels", "AKID", "SECRET")
	require.NoError(t, err)
	local := filepath.Join(t.TempDir(), "a b.png")
	require.NoError(t, os.WriteFile(local, []byte{1}, 0o644))
	require.NoError(t, c.PutFile(context.Background(), "renders/a b.png", local))
	assert.Equal(t, "/voxels/renders/a%20b.png", rawPath)
}

func TestNewValidates(t *testing.T) {
	_, err := New("", "b", "k", " ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint, secret access key")
	_, err = New("ftp://host", "b", "k", "s")
	assert.Error(t, err)

	c, err := New("acct.r2.cloudflarestorage.com/", "b", "k", "s")
	require.NoError(t, err)
	assert.Equal(t, "https://acct.r2.cloudflarestorage.com", c.base.String())
	assert.Equal(t, "https://acct.r2.cloudflarestorage.com/b/scans/a.vol.zst", c.objectURL("scans/a.vol.zst").String())
}
