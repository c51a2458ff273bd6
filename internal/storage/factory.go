package storage

import (
	"context"
	"fmt"

	gcsclient "cloud.google.com/go/storage"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"transcoder/internal/adapters/storage/gcs"
	"transcoder/internal/adapters/storage/gdrive"
	"transcoder/internal/adapters/storage/localfs"
	"transcoder/internal/adapters/storage/s3"
	"transcoder/internal/config"
)

// Providers holds the source and destination buckets of one backend.
// Close releases any client shared by the two.
type Providers struct {
	Source      Provider
	Destination Provider
	Close       func() error
}

func NewProviders(ctx context.Context, cfg config.Storage) (*Providers, error) {
	nop := func() error { return nil }

	switch cfg.Provider {
	case config.StorageLocalFS:
		return &Providers{
			Source:      localfs.New(cfg.LocalRoot, cfg.SourceBucket),
			Destination: localfs.New(cfg.LocalRoot, cfg.DestinationBucket),
			Close:       nop,
		}, nil

	case config.StorageS3:
		client := s3.NewClient(s3.Options{
			Endpoint:  cfg.Endpoint,
			UseSSL:    cfg.UseSSL,
			Region:    cfg.Region,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
		})
		return &Providers{
			Source:      s3.New(client, cfg.SourceBucket),
			Destination: s3.New(client, cfg.DestinationBucket),
			Close:       nop,
		}, nil

	case config.StorageGCS:
		var opts []option.ClientOption
		if cfg.GCSCredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.GCSCredentialsFile))
		}
		client, err := gcsclient.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return &Providers{
			Source:      gcs.New(client, cfg.SourceBucket),
			Destination: gcs.New(client, cfg.DestinationBucket),
			Close:       client.Close,
		}, nil

	case config.StorageGDrive:
		srv, err := newDriveService(ctx, cfg)
		if err != nil {
			return nil, err
		}
		// Buckets are Drive folder ids here.
		return &Providers{
			Source:      gdrive.NewClient(srv, cfg.SourceBucket),
			Destination: gdrive.NewClient(srv, cfg.DestinationBucket),
			Close:       nop,
		}, nil

	default:
		return nil, fmt.Errorf("unknown storage provider: %s", cfg.Provider)
	}
}

// DriveOAuthConfig is the OAuth client the gdrive provider authenticates
// with. The refresh token it needs is minted by cmd/gdrive-auth.
func DriveOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{drive.DriveFileScope},
		RedirectURL:  redirectURL,
	}
}

func newDriveService(ctx context.Context, cfg config.Storage) (*drive.Service, error) {
	conf := DriveOAuthConfig(cfg.GDriveClientID, cfg.GDriveClientSecret, "")
	tok := &oauth2.Token{RefreshToken: cfg.GDriveRefreshToken}
	httpClient := conf.Client(ctx, tok)

	srv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("drive service: %w", err)
	}
	return srv, nil
}
