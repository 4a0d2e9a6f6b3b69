package msgstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"sort"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/sungwon/mail-dispatch/internal/message"
)

// fakeBucket records every object call so tests can assert on the request
// parameters as well as on stored bytes.
type fakeBucket struct {
	objects map[string][]byte
	types   map[string]string
	buckets []string
	getErr  error
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeBucket) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.buckets = append(f.buckets, *in.Bucket)
	f.objects[*in.Key] = body
	if in.ContentType != nil {
		f.types[*in.Key] = *in.ContentType
	}
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeBucket) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	body, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fakeBucket) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.buckets = append(f.buckets, *in.Bucket)
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeBucket) keys() []string {
	out := make([]string, 0, len(f.objects))
	for k := range f.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestS3Store_EnvelopeRoundTrip(t *testing.T) {
	bucket := newFakeBucket()
	store := NewS3Store(bucket, "mail", "")
	ctx := context.Background()

	env := &message.Envelope{
		From:    "noreply@acme.test",
		To:      []string{"a@example.com", "b@example.com"},
		Subject: "Welcome",
		HTML:    "<p>hi</p>",
		Headers: map[string]string{"X-Campaign": "spring"},
	}
	body, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}

	key := ContentKey("acme", "welcome-1")
	if err := store.Put(ctx, key, body); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if ct := bucket.types[key]; ct != "application/json" {
		t.Errorf("content type = %q, want application/json", ct)
	}
	for _, b := range bucket.buckets {
		if b != "mail" {
			t.Errorf("request sent to bucket %q, want mail", b)
		}
	}

	raw, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var got message.Envelope
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("stored body is not an envelope: %v", err)
	}
	if !reflect.DeepEqual(&got, env) {
		t.Errorf("envelope = %+v, want %+v", got, *env)
	}
}

func TestS3Store_ObjectKeys(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		client string
		id     string
		want   string
	}{
		{"no prefix", "", "acme", "m1", "acme/m1.json"},
		{"prefix", "dispatch/", "acme", "m1", "dispatch/acme/m1.json"},
		{"dotted id", "dispatch/", "globex", "order.42@shop", "dispatch/globex/order.42@shop.json"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket := newFakeBucket()
			store := NewS3Store(bucket, "mail", tt.prefix)

			if err := store.Put(context.Background(), ContentKey(tt.client, tt.id), []byte("{}")); err != nil {
				t.Fatalf("Put: %v", err)
			}
			if got := bucket.keys(); len(got) != 1 || got[0] != tt.want {
				t.Errorf("object keys = %v, want [%s]", got, tt.want)
			}
		})
	}
}

func TestS3Store_ClientsDoNotShareContent(t *testing.T) {
	bucket := newFakeBucket()
	store := NewS3Store(bucket, "mail", "")
	ctx := context.Background()

	if err := store.Put(ctx, ContentKey("acme", "m1"), []byte(`{"text":"acme"}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(ctx, ContentKey("globex", "m1")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("globex Get = %v, want ErrNotFound", err)
	}

	if err := store.Delete(ctx, ContentKey("globex", "m1")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, ContentKey("acme", "m1")); err != nil {
		t.Errorf("acme content lost after globex delete: %v", err)
	}
}

func TestS3Store_DeleteThenGet(t *testing.T) {
	bucket := newFakeBucket()
	store := NewS3Store(bucket, "mail", "p/")
	ctx := context.Background()
	key := ContentKey("acme", "m1")

	if err := store.Put(ctx, key, []byte("{}")); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := store.Delete(ctx, key); err != nil {
			t.Fatalf("Delete #%d: %v", i+1, err)
		}
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	if len(bucket.objects) != 0 {
		t.Errorf("objects left behind: %v", bucket.keys())
	}
}

func TestS3Store_GetErrors(t *testing.T) {
	outage := errors.New("connection reset")

	tests := []struct {
		name         string
		err          error
		wantNotFound bool
	}{
		{"missing key", &types.NoSuchKey{}, true},
		{"service failure", outage, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket := newFakeBucket()
			bucket.getErr = tt.err
			store := NewS3Store(bucket, "mail", "")

			_, err := store.Get(context.Background(), ContentKey("acme", "m1"))
			if err == nil {
				t.Fatal("Get succeeded, want error")
			}
			if got := errors.Is(err, ErrNotFound); got != tt.wantNotFound {
				t.Errorf("errors.Is(err, ErrNotFound) = %v, want %v (err: %v)", got, tt.wantNotFound, err)
			}
			if !tt.wantNotFound && !errors.Is(err, outage) {
				t.Errorf("err = %v, want wrapped %v", err, outage)
			}
		})
	}
}
