package catalog

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/klauspost/compress/zip"

	"github.com/fresco-hpc/fresco-etl/common"
)

// DefaultMaxWorkDirGiB is the download budget for one archive group.
const DefaultMaxWorkDirGiB = 28.0

// ManifestKey is where the catalog manifest lives in the archive bucket.
const ManifestKey = "archives/index.json"

// objectPeriodPattern finds the "YYYY-MM-DD" or "YYYY-MM" a finalized
// output file carries in its name.
var objectPeriodPattern = regexp.MustCompile(`(\d{4})-(\d{2})(?:-\d{2})?`)

// Builder groups stored outputs by period, archives each group, and
// publishes the manifest.
type Builder struct {
	Source  Store // finalized outputs
	Archive Store // archive destination

	WorkDir       string
	MaxWorkDirGiB float64
	Logger        common.ILogger
}

func NewBuilder(source, archive Store, workDir string, logger common.ILogger) *Builder {
	return &Builder{
		Source:        source,
		Archive:       archive,
		WorkDir:       workDir,
		MaxWorkDirGiB: DefaultMaxWorkDirGiB,
		Logger:        logger,
	}
}

// Run archives every monthly and quarterly group under prefix and uploads
// the combined manifest. A group whose download would blow the working
// directory budget fails that group without stopping the rest.
func (b *Builder) Run(ctx context.Context, prefix string) ([]common.ArchiveEntry, error) {
	objects, err := b.Source.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		common.Logf(b.Logger, common.ELogLevel.Warning(), "no objects under %q, nothing to archive", prefix)
		return nil, nil
	}

	var manifest []common.ArchiveEntry
	var failed int
	for _, group := range []struct {
		kind   string
		groups map[string][]Object
	}{
		{"monthly", groupByMonth(objects)},
		{"quarterly", groupByQuarter(objects)},
	} {
		for _, period := range sortedKeys(group.groups) {
			entry, err := b.buildArchive(ctx, group.kind, period, group.groups[period])
			if err != nil {
				failed++
				common.Logf(b.Logger, common.ELogLevel.Error(),
					"%s archive %s failed: %v", group.kind, period, err)
				continue
			}
			manifest = append(manifest, entry)
		}
	}
	if len(manifest) == 0 {
		return nil, common.NewErrorf(common.EErrorKind.Write(), "all %d archive groups failed", failed)
	}

	if err := b.uploadManifest(ctx, manifest); err != nil {
		return nil, err
	}
	common.Logf(b.Logger, common.ELogLevel.Info(), "catalog complete: %d archives", len(manifest))
	return manifest, nil
}

func (b *Builder) buildArchive(ctx context.Context, kind, period string, objects []Object) (common.ArchiveEntry, error) {
	var entry common.ArchiveEntry

	workDir, err := os.MkdirTemp(b.WorkDir, "archive-")
	if err != nil {
		return entry, common.NewError(common.EErrorKind.Resource(), err)
	}
	defer os.RemoveAll(workDir)

	var local []string
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return entry, err
		}
		dest := filepath.Join(workDir, filepath.Base(obj.Key))
		if err := b.Source.Download(ctx, obj.Key, dest); err != nil {
			return entry, err
		}
		local = append(local, dest)
		if used := dirSizeGiB(workDir); used > b.MaxWorkDirGiB {
			return entry, common.NewErrorf(common.EErrorKind.Resource(),
				"working directory at %.1f GiB exceeds the %.1f GiB budget", used, b.MaxWorkDirGiB)
		}
	}

	archivePath := filepath.Join(workDir, period+".zip")
	if err := writeZip(archivePath, local); err != nil {
		return entry, common.WrapError(common.EErrorKind.Write(), err, "zip "+period)
	}
	checksum, err := common.SHA256File(archivePath)
	if err != nil {
		return entry, common.NewError(common.EErrorKind.Write(), err)
	}
	fi, err := os.Stat(archivePath)
	if err != nil {
		return entry, common.NewError(common.EErrorKind.Write(), err)
	}

	key := fmt.Sprintf("archives/%s/%s.zip", kind, period)
	if err := b.Archive.Upload(ctx, archivePath, key); err != nil {
		return entry, err
	}

	start, end := objects[0].LastModified, objects[0].LastModified
	for _, obj := range objects[1:] {
		if obj.LastModified.Before(start) {
			start = obj.LastModified
		}
		if obj.LastModified.After(end) {
			end = obj.LastModified
		}
	}
	common.Logf(b.Logger, common.ELogLevel.Info(),
		"archived %s %s: %d objects, %s", kind, period, len(objects), common.ByteSizeToString(fi.Size()))
	return common.ArchiveEntry{
		Period:      period,
		Path:        key,
		Size:        fi.Size(),
		Checksum:    checksum,
		Start:       start.UTC().Format("2006-01-02T15:04:05Z"),
		End:         end.UTC().Format("2006-01-02T15:04:05Z"),
		ObjectCount: len(objects),
	}, nil
}

func (b *Builder) uploadManifest(ctx context.Context, manifest []common.ArchiveEntry) error {
	path := filepath.Join(b.WorkDir, "index.json")
	if err := common.SaveJSONAtomic(path, manifest); err != nil {
		return err
	}
	defer os.Remove(path)
	return b.Archive.Upload(ctx, path, ManifestKey)
}

// periodOf reads the month key out of an object name, preferring the
// embedded date over storage timestamps.
func periodOf(obj Object) string {
	m := objectPeriodPattern.FindStringSubmatch(filepath.Base(obj.Key))
	if m == nil {
		return obj.LastModified.UTC().Format("2006-01")
	}
	return m[1] + "-" + m[2]
}

func groupByMonth(objects []Object) map[string][]Object {
	groups := make(map[string][]Object)
	for _, obj := range objects {
		month := periodOf(obj)
		groups[month] = append(groups[month], obj)
	}
	return groups
}

func groupByQuarter(objects []Object) map[string][]Object {
	groups := make(map[string][]Object)
	for _, obj := range objects {
		month := periodOf(obj)
		year := month[:4]
		m, _ := strconv.Atoi(month[5:])
		q := (m-1)/3 + 1
		key := fmt.Sprintf("%s-Q%d", year, q)
		groups[key] = append(groups[key], obj)
	}
	return groups
}

func sortedKeys(groups map[string][]Object) []string {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeZip(archivePath string, files []string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	zw := zip.NewWriter(out)
	for _, file := range files {
		if err := addZipEntry(zw, file); err != nil {
			zw.Close()
			out.Close()
			os.Remove(archivePath)
			return err
		}
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func addZipEntry(zw *zip.Writer, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:   filepath.Base(file),
		Method: zip.Deflate,
	})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}

func dirSizeGiB(dir string) float64 {
	var total int64
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return common.BytesToGiB(uint64(total))
}
