package store

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/redis/go-redis/v9"

	werrors "github.com/logflow/waitlens/pkg/errors"
	"github.com/logflow/waitlens/pkg/export"
)

func testReport(id string, created time.Time) *export.RunReport {
	return &export.RunReport{
		RunID:     id,
		CreatedAt: created,
		Source:    "log.csv",
		Summary:   export.Summary{Instances: 12},
	}
}

var base = time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

// exercise runs the shared contract against a backend.
func exercise(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	for i, id := range []string{"r1", "r2", "r3"} {
		if err := b.Save(ctx, testReport(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("%s Save(%s) error = %v", b.Name(), id, err)
		}
	}

	rep, err := b.Load(ctx, "r2")
	if err != nil {
		t.Fatalf("%s Load() error = %v", b.Name(), err)
	}
	if rep.RunID != "r2" || rep.Summary.Instances != 12 {
		t.Errorf("%s Load() = %+v", b.Name(), rep)
	}

	_, err = b.Load(ctx, "missing")
	if !errors.Is(err, ErrNotFound) || !werrors.IsCode(err, werrors.CodeStore) {
		t.Errorf("%s Load(missing) error = %v, want ErrNotFound with %s", b.Name(), err, werrors.CodeStore)
	}

	if err := b.Delete(ctx, "r1"); err != nil {
		t.Fatalf("%s Delete() error = %v", b.Name(), err)
	}
	entries, err := b.List(ctx)
	if err != nil {
		t.Fatalf("%s List() error = %v", b.Name(), err)
	}
	if len(entries) != 2 || entries[0].ID != "r3" || entries[1].ID != "r2" {
		t.Errorf("%s List() = %+v, want r3, r2", b.Name(), entries)
	}
}

func TestLocalBackend(t *testing.T) {
	b, err := NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalBackend() error = %v", err)
	}
	exercise(t, b)

	entries, _ := b.List(context.Background())
	if entries[0].Source != "log.csv" || entries[0].Instances != 12 || entries[0].Size == 0 {
		t.Errorf("entry = %+v, want source, instances and size", entries[0])
	}
	if err := b.Delete(context.Background(), "r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete(r1) twice error = %v, want ErrNotFound", err)
	}
}

type fakeRedis struct {
	strings map[string]string
	hashes  map[string]map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{strings: map[string]string{}, hashes: map[string]map[string]string{}}
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		f.strings[key] = string(v)
	case string:
		f.strings[key] = v
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := f.strings[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.strings[k]; ok {
			delete(f.strings, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	h := f.hashes[key]
	if h == nil {
		h = map[string]string{}
		f.hashes[key] = h
	}
	for i := 0; i+1 < len(values); i += 2 {
		h[values[i].(string)] = values[i+1].(string)
	}
	return redis.NewIntResult(int64(len(values)/2), nil)
}

func (f *fakeRedis) HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	out := map[string]string{}
	for k, v := range f.hashes[key] {
		out[k] = v
	}
	return redis.NewMapStringStringResult(out, nil)
}

func (f *fakeRedis) HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd {
	for _, field := range fields {
		delete(f.hashes[key], field)
	}
	return redis.NewIntResult(int64(len(fields)), nil)
}

func TestRedisBackend(t *testing.T) {
	fake := newFakeRedis()
	b := NewRedisBackendWithClient(DefaultRedisConfig("localhost:6379"), fake)
	exercise(t, b)

	if _, ok := fake.strings["waitlens:runs:run:r3"]; !ok {
		t.Errorf("keys = %v, want waitlens:runs:run:r3", fake.strings)
	}
	if len(fake.hashes["waitlens:runs:index"]) != 2 {
		t.Errorf("index = %v, want 2 entries", fake.hashes["waitlens:runs:index"])
	}
}

func TestRedisBackendExpiredEntries(t *testing.T) {
	fake := newFakeRedis()
	cfg := DefaultRedisConfig("localhost:6379")
	cfg.TTL = time.Hour
	b := NewRedisBackendWithClient(cfg, fake)

	ctx := context.Background()
	if err := b.Save(ctx, testReport("old", time.Now().Add(-2*time.Hour))); err != nil {
		t.Fatal(err)
	}
	if err := b.Save(ctx, testReport("new", time.Now())); err != nil {
		t.Fatal(err)
	}
	entries, err := b.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "new" {
		t.Errorf("List() = %+v, want only new", entries)
	}
	if _, ok := fake.hashes[b.indexKey()]["old"]; ok {
		t.Error("expired entry still indexed")
	}
}

type fakeS3 struct {
	objects  map[string][]byte
	modified map[string]time.Time
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, modified: map[string]time.Time{}}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	key := aws.ToString(in.Key)
	f.objects[key] = data
	f.modified[key] = base.Add(time.Duration(len(f.modified)) * time.Hour)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			LastModified: aws.Time(f.modified[k]),
			Size:         aws.Int64(int64(len(f.objects[k]))),
		})
	}
	return out, nil
}

func TestS3Backend(t *testing.T) {
	fake := newFakeS3()
	b := NewS3BackendWithClient(DefaultS3Config("bucket"), fake)
	exercise(t, b)

	if _, ok := fake.objects["runs/r2.json"]; !ok {
		t.Errorf("objects = %v, want runs/r2.json", fake.objects)
	}
}

func TestMultiBackend(t *testing.T) {
	ctx := context.Background()
	primary, err := NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	secondary := NewS3BackendWithClient(DefaultS3Config("bucket"), newFakeS3())
	m := NewMultiBackend(primary, secondary)

	if m.Name() != "local+s3" {
		t.Errorf("Name() = %q, want local+s3", m.Name())
	}
	if err := m.Save(ctx, testReport("r1", base)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := primary.Delete(ctx, "r1"); err != nil {
		t.Fatal(err)
	}
	rep, err := m.Load(ctx, "r1")
	if err != nil || rep.RunID != "r1" {
		t.Errorf("Load() = %v, %v, want fallback to secondary", rep, err)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	b, err := Open(ctx, Config{Backend: "none"})
	if err != nil || b != nil {
		t.Errorf("Open(none) = %v, %v, want nil backend", b, err)
	}

	b, err = Open(ctx, Config{Backend: "local", Dir: t.TempDir()})
	if err != nil || b == nil || b.Name() != "local" {
		t.Errorf("Open(local) = %v, %v", b, err)
	}

	_, err = Open(ctx, Config{Backend: "ftp"})
	if !werrors.IsCode(err, werrors.CodeInvalidConfig) {
		t.Errorf("Open(ftp) error = %v, want %s", err, werrors.CodeInvalidConfig)
	}
}

// flakyBackend fails every call while down is set.
type flakyBackend struct {
	down  bool
	calls int
}

var errDown = errors.New("connection refused")

func (f *flakyBackend) result() error {
	f.calls++
	if f.down {
		return errDown
	}
	return nil
}

func (f *flakyBackend) Save(context.Context, *export.RunReport) error { return f.result() }
func (f *flakyBackend) Load(context.Context, string) (*export.RunReport, error) {
	if err := f.result(); err != nil {
		return nil, err
	}
	return nil, ErrNotFound
}
func (f *flakyBackend) List(context.Context) ([]Entry, error) { return nil, f.result() }
func (f *flakyBackend) Delete(context.Context, string) error  { return f.result() }
func (f *flakyBackend) Name() string                          { return "flaky" }

func TestBreaker(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyBackend{down: true}
	b := NewBreaker(flaky, BreakerConfig{MaxFailures: 2, Cooldown: time.Minute})
	now := base
	b.now = func() time.Time { return now }

	var tripped string
	b.OnTrip = func(name string, err error) { tripped = name }

	for i := 0; i < 2; i++ {
		if err := b.Save(ctx, testReport("r1", base)); !errors.Is(err, errDown) {
			t.Fatalf("Save() #%d error = %v, want %v", i, err, errDown)
		}
	}
	if b.State() != CircuitOpen {
		t.Fatalf("State() = %v, want open", b.State())
	}
	if tripped != "flaky" {
		t.Errorf("OnTrip backend = %q, want flaky", tripped)
	}

	// Open: calls are rejected without reaching the backend.
	_, err := b.List(ctx)
	if !errors.Is(err, ErrUnavailable) || !werrors.IsCode(err, werrors.CodeStore) {
		t.Errorf("List() error = %v, want ErrUnavailable as %s", err, werrors.CodeStore)
	}
	if flaky.calls != 2 {
		t.Errorf("backend calls = %d, want 2", flaky.calls)
	}

	// After the cooldown one trial call goes through; a failure reopens.
	now = now.Add(time.Minute)
	if err := b.Delete(ctx, "r1"); !errors.Is(err, errDown) {
		t.Errorf("Delete() error = %v, want %v", err, errDown)
	}
	if b.State() != CircuitOpen {
		t.Errorf("State() after failed trial = %v, want open", b.State())
	}

	// A successful trial closes the circuit; not found counts as success.
	now = now.Add(time.Minute)
	flaky.down = false
	if _, err := b.Load(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load() error = %v, want %v", err, ErrNotFound)
	}
	if b.State() != CircuitClosed {
		t.Errorf("State() = %v, want closed", b.State())
	}
}

func TestOpenMirror(t *testing.T) {
	ctx := context.Background()
	_, err := Open(ctx, Config{Backend: "local", Mirror: "local", Dir: t.TempDir()})
	if !werrors.IsCode(err, werrors.CodeInvalidConfig) {
		t.Errorf("Open(mirror=local) error = %v, want %s", err, werrors.CodeInvalidConfig)
	}
}
