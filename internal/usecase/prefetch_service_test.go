package usecase

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/domain/repository"
)

func TestPrefetchService_RequestPrefetch(t *testing.T) {
	asset, _ := model.NewAsset("https://cdn.example.com/v.mp4", model.FormatProgressive, nil)

	tests := []struct {
		name       string
		queue      bool
		assetID    uuid.UUID
		offset     int64
		length     int64
		publishErr error
		wantErr    error
		wantErrMsg string
		wantTask   bool
	}{
		{name: "queued", queue: true, assetID: asset.ID, offset: 1024, length: 4096, wantTask: true},
		{name: "to end of resource", queue: true, assetID: asset.ID, length: -1, wantTask: true},
		{name: "disabled", queue: false, assetID: asset.ID, length: 10, wantErr: ErrPrefetchDisabled},
		{name: "negative offset", queue: true, assetID: asset.ID, offset: -1, length: 10, wantErr: ErrInvalidRange},
		{name: "empty range", queue: true, assetID: asset.ID, length: 0, wantErr: ErrInvalidRange},
		{name: "unknown asset", queue: true, assetID: uuid.New(), length: 10, wantErr: repository.ErrAssetNotFound},
		{
			name: "publish error", queue: true, assetID: asset.ID, length: 10,
			publishErr: errors.New("channel closed"), wantErrMsg: "publish prefetch task",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var published *repository.PrefetchTask
			var queue repository.MessageQueue
			if tt.queue {
				queue = &mockMessageQueue{
					publishPrefetchTaskFn: func(ctx context.Context, task repository.PrefetchTask) error {
						published = &task
						return tt.publishErr
					},
				}
			}
			factory, _ := newTestFactory(t, false)
			svc := NewPrefetchService(assetsByID(asset), factory, queue, DefaultPrefetchServiceConfig())

			err := svc.RequestPrefetch(context.Background(), tt.assetID, tt.offset, tt.length)

			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("RequestPrefetch() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErrMsg != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErrMsg)) {
				t.Fatalf("RequestPrefetch() error = %v, want %q", err, tt.wantErrMsg)
			}
			if tt.wantErr == nil && tt.wantErrMsg == "" && err != nil {
				t.Fatalf("RequestPrefetch() unexpected error = %v", err)
			}

			if (published != nil && tt.publishErr == nil) != tt.wantTask {
				t.Fatalf("published = %v, want %v", published != nil, tt.wantTask)
			}
			if tt.wantTask {
				want := repository.PrefetchTask{AssetID: tt.assetID, Offset: tt.offset, Length: tt.length}
				if *published != want {
					t.Errorf("published task = %+v, want %+v", *published, want)
				}
			}
		})
	}
}

func TestPrefetchService_ProcessTask_WarmsCache(t *testing.T) {
	srv, requests := newOrigin(t)
	factory, cache := newTestFactory(t, true)
	asset := newOriginAsset(t, srv, model.FormatProgressive)
	svc := NewPrefetchService(assetsByID(asset), factory, nil, DefaultPrefetchServiceConfig())

	task := repository.PrefetchTask{AssetID: asset.ID, Offset: 4096, Length: 32 << 10}
	if err := svc.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask() error = %v", err)
	}

	spans := cache.Spans(asset.ResourceKey())
	if len(spans) != 1 || spans[0].Offset != task.Offset || spans[0].Length != task.Length {
		t.Errorf("Spans() = %+v, want one span [%d,%d)", spans, task.Offset, task.Offset+task.Length)
	}

	// A second prefetch of the same range is served from the cache.
	before := requests.Load()
	if err := svc.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("ProcessTask() error = %v", err)
	}
	if after := requests.Load(); after != before {
		t.Errorf("repeated prefetch issued %d origin requests", after-before)
	}
}

func TestPrefetchService_ProcessTask_Outcomes(t *testing.T) {
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()
	healthy, _ := newOrigin(t)

	failingAsset := newOriginAsset(t, failing, model.FormatProgressive)
	healthyAsset := newOriginAsset(t, healthy, model.FormatProgressive)

	tests := []struct {
		name    string
		task    repository.PrefetchTask
		wantErr error
	}{
		{
			name:    "origin failure is retried",
			task:    repository.PrefetchTask{AssetID: failingAsset.ID, Length: 10},
			wantErr: repository.ErrNetwork,
		},
		{
			name: "max retries drops the task",
			task: repository.PrefetchTask{AssetID: failingAsset.ID, Length: 10, RetryCount: DefaultMaxRetries},
		},
		{
			name: "unknown asset is dropped",
			task: repository.PrefetchTask{AssetID: uuid.New(), Length: 10},
		},
		{
			name: "range past end is dropped",
			task: repository.PrefetchTask{AssetID: healthyAsset.ID, Offset: int64(len(media)) + 10, Length: 10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			factory, _ := newTestFactory(t, true)
			assets := assetsByID(failingAsset, healthyAsset)
			svc := NewPrefetchService(assets, factory, nil, DefaultPrefetchServiceConfig())

			err := svc.ProcessTask(context.Background(), tt.task)
			if tt.wantErr == nil && err != nil {
				t.Errorf("ProcessTask() error = %v, want nil", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("ProcessTask() error = %v, want %v", err, tt.wantErr)
			}
			if tt.task.RetryCount >= DefaultMaxRetries && assets.getAssetCount.Load() != 0 {
				t.Error("dropped task should not be processed")
			}
		})
	}
}
