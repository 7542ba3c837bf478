package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antjowie/syncsftp/pkg/syncsftp/config"
)

const listPage = `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>backups</Name>
  <Prefix>daily/</Prefix>
  <KeyCount>2</KeyCount>
  <MaxKeys>1000</MaxKeys>
  <Delimiter>/</Delimiter>
  <IsTruncated>%t</IsTruncated>
  %s
  <Contents>
    <Key>daily/a.zip</Key>
    <LastModified>2026-01-02T03:04:05.000Z</LastModified>
    <Size>42</Size>
  </Contents>
  <CommonPrefixes><Prefix>daily/nested/</Prefix></CommonPrefixes>
</ListBucketResult>`

const accessDenied = `<?xml version="1.0" encoding="UTF-8"?>
<Error><Code>AccessDenied</Code><Message>Access Denied</Message><BucketName>backups</BucketName></Error>`

// newTestS3 points an S3 remote at handler, skipping DialS3's bucket check.
func newTestS3(t *testing.T, handler http.HandlerFunc) *S3 {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	client, err := minio.New(u.Host, &minio.Options{
		Creds:        credentials.NewStaticV4("key", "secret", ""),
		Region:       "us-east-1",
		BucketLookup: minio.BucketLookupPath,
	})
	require.NoError(t, err)

	return &S3{cfg: config.Remote{Scheme: config.SchemeS3, Bucket: "backups"}, client: client}
}

func TestS3List(t *testing.T) {
	s := newTestS3(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, listPage, false, "")
	})

	entries, err := s.List(context.Background(), "daily")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "a.zip", entries[0].Name)
	assert.Equal(t, "daily/a.zip", entries[0].FullPath)
	assert.Equal(t, uint64(42), entries[0].Size)
	assert.False(t, entries[0].IsDir)

	assert.Equal(t, "nested", entries[1].Name)
	assert.True(t, entries[1].IsDir)
}

func TestS3ListErrorMidway(t *testing.T) {
	var requests atomic.Int32
	s := newTestS3(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		if requests.Add(1) == 1 {
			fmt.Fprintf(w, listPage, true, "<NextContinuationToken>page-2</NextContinuationToken>")
			return
		}
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, accessDenied)
	})

	entries, err := s.List(context.Background(), "daily")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listing s3://backups/daily/")
	assert.Nil(t, entries)
	assert.Equal(t, int32(2), requests.Load())
}
