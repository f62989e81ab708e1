package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fresco-hpc/fresco-etl/common"
)

const indexPage = `<html><body><pre>
<a href="../">../</a>
<a href="2016-10/">2016-10/</a>
<a href="2016-11/">2016-11/</a>
<a href="2015-03/">2015-03/</a>
<a href="readme.txt">readme.txt</a>
<a href="logs/">logs/</a>
</pre></body></html>`

func TestListFoldersParsesAndSorts(t *testing.T) {
	a := assert.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(indexPage))
	}))
	defer srv.Close()

	d := NewDiscoverer(srv.URL, nil)
	folders, err := d.ListFolders(context.Background())
	a.NoError(err)
	a.Equal([]string{"2015-03", "2016-10", "2016-11"}, folders)
	a.Equal(srv.URL+"/2016-11/", d.FolderURL("2016-11"))
}

func TestListFoldersUnreachableIndex(t *testing.T) {
	a := assert.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewDiscoverer(srv.URL, nil).ListFolders(context.Background())
	a.Error(err)
	a.True(common.IsKind(err, common.EErrorKind.Source()))
}

func TestFetchFolderRetriesTransientFailures(t *testing.T) {
	a := assert.New(t)
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("jobID,node\nJOB1,NODE1\n"))
	}))
	defer srv.Close()

	dest := t.TempDir()
	dl := NewDownloader(nil)
	err := dl.FetchFolder(context.Background(), srv.URL+"/", dest, []string{"cpu.csv"})
	a.NoError(err)
	a.GreaterOrEqual(atomic.LoadInt32(&hits), int32(2))

	data, err := os.ReadFile(filepath.Join(dest, "cpu.csv"))
	a.NoError(err)
	a.NotEmpty(data)
}

func TestFetchFolderEmptyBodyIsFailure(t *testing.T) {
	a := assert.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK) // zero-byte body
	}))
	defer srv.Close()

	dest := t.TempDir()
	err := NewDownloader(nil).FetchFolder(context.Background(), srv.URL+"/", dest, []string{"mem.csv"})
	a.Error(err)
	a.True(common.IsKind(err, common.EErrorKind.Source()))
	_, statErr := os.Stat(filepath.Join(dest, "mem.csv"))
	a.True(os.IsNotExist(statErr), "partial zero-byte file must be removed")
}

func TestFetchFolderResumesExistingFile(t *testing.T) {
	a := assert.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("server must not be contacted for an already present file")
	}))
	defer srv.Close()

	dest := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dest, "block.csv"), []byte("existing"), 0o644))

	err := NewDownloader(nil).FetchFolder(context.Background(), srv.URL+"/", dest, []string{"block.csv"})
	a.NoError(err)
}

func TestFetchFolderMissingFileIsPermanent(t *testing.T) {
	a := assert.New(t)
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	err := NewDownloader(nil).FetchFolder(context.Background(), srv.URL+"/", t.TempDir(), []string{"llite.csv"})
	a.Error(err)
	a.Equal(int32(1), atomic.LoadInt32(&hits), "404 must not be retried")
}
