package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediacache/internal/domain/model"
	"github.com/hszk-dev/mediacache/internal/domain/repository"
)

func TestAssetService_CreateAsset(t *testing.T) {
	tests := []struct {
		name       string
		input      CreateAssetInput
		createErr  error
		wantFormat model.StreamingFormat
		wantErr    error
		wantErrMsg string
	}{
		{
			name: "success",
			input: CreateAssetInput{
				Address: "https://cdn.example.com/v.mpd",
				Format:  model.FormatDynamicAdaptive,
				Headers: map[string]string{"User-Agent": "MyApp/1.0"},
			},
			wantFormat: model.FormatDynamicAdaptive,
		},
		{
			name:       "format defaults to progressive",
			input:      CreateAssetInput{Address: " https://cdn.example.com/v.mp4 "},
			wantFormat: model.FormatProgressive,
		},
		{
			name:    "missing address",
			input:   CreateAssetInput{Address: "  ", Format: model.FormatHTTPLive},
			wantErr: ErrAddressRequired,
		},
		{
			name:    "invalid format",
			input:   CreateAssetInput{Address: "https://cdn.example.com/v", Format: "RTSP"},
			wantErr: model.ErrInvalidFormat,
		},
		{
			name:    "empty header name",
			input:   CreateAssetInput{Address: "https://cdn.example.com/v", Headers: map[string]string{"": "x"}},
			wantErr: model.ErrInvalidHeader,
		},
		{
			name:       "repository error",
			input:      CreateAssetInput{Address: "https://cdn.example.com/v"},
			createErr:  errors.New("connection refused"),
			wantErrMsg: "create asset",
		},
		{
			name:      "duplicate",
			input:     CreateAssetInput{Address: "https://cdn.example.com/v"},
			createErr: repository.ErrDuplicateAsset,
			wantErr:   repository.ErrDuplicateAsset,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stored *model.Asset
			repo := &mockAssetRepository{
				createFn: func(ctx context.Context, asset *model.Asset) error {
					stored = asset
					return tt.createErr
				},
			}

			got, err := NewAssetService(repo).CreateAsset(context.Background(), tt.input)

			if tt.wantErr != nil || tt.wantErrMsg != "" {
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Errorf("CreateAsset() error = %v, wantErr %v", err, tt.wantErr)
				}
				if tt.wantErrMsg != "" && (err == nil || !strings.Contains(err.Error(), tt.wantErrMsg)) {
					t.Errorf("CreateAsset() error = %v, want message containing %q", err, tt.wantErrMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateAsset() unexpected error = %v", err)
			}

			if stored != got {
				t.Error("CreateAsset() returned an asset other than the stored one")
			}
			if got.Address != strings.TrimSpace(tt.input.Address) {
				t.Errorf("Address = %q", got.Address)
			}
			if got.Format != tt.wantFormat {
				t.Errorf("Format = %v, want %v", got.Format, tt.wantFormat)
			}
			for name, value := range tt.input.Headers {
				if v, _ := got.HeaderValue(name); v != value {
					t.Errorf("HeaderValue(%q) = %q, want %q", name, v, value)
				}
			}
		})
	}
}

func TestAssetService_GetAndDelete(t *testing.T) {
	asset, _ := model.NewAsset("https://cdn.example.com/v", model.FormatProgressive, nil)
	var deleted uuid.UUID
	repo := &mockAssetRepository{
		getByIDFn: func(ctx context.Context, id uuid.UUID) (*model.Asset, error) {
			if id == asset.ID {
				return asset, nil
			}
			return nil, repository.ErrAssetNotFound
		},
		deleteFn: func(ctx context.Context, id uuid.UUID) error {
			deleted = id
			return nil
		},
	}
	svc := NewAssetService(repo)
	ctx := context.Background()

	got, err := svc.GetAsset(ctx, asset.ID)
	if err != nil || got != asset {
		t.Errorf("GetAsset() = %v, %v", got, err)
	}
	if _, err := svc.GetAsset(ctx, uuid.New()); !errors.Is(err, repository.ErrAssetNotFound) {
		t.Errorf("GetAsset() error = %v, want %v", err, repository.ErrAssetNotFound)
	}
	if err := svc.DeleteAsset(ctx, asset.ID); err != nil || deleted != asset.ID {
		t.Errorf("DeleteAsset() error = %v, deleted %v", err, deleted)
	}
}
