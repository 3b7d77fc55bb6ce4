package storage

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	appconfig "github.com/semmidev/bastion/internal/config"
)

// GDriveStore mirrors artifacts to a Google Drive folder.
type GDriveStore struct {
	service  *drive.Service
	folderID string
}

func NewGDrive(cfg *appconfig.MirrorConfig) (*GDriveStore, error) {
	service, err := drive.NewService(context.Background(),
		option.WithCredentialsFile(cfg.CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}

	return &GDriveStore{
		service:  service,
		folderID: cfg.FolderID,
	}, nil
}

func (g *GDriveStore) Put(ctx context.Context, name string, r io.Reader) (int64, error) {
	counted := &countingReader{r: r}

	_, err := g.service.Files.Create(&drive.File{
		Name:    name,
		Parents: []string{g.folderID},
	}).Media(counted).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("upload to gdrive: %w", err)
	}
	return counted.n, nil
}

func (g *GDriveStore) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	id, err := g.findFile(ctx, name)
	if err != nil {
		return nil, err
	}

	resp, err := g.service.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("download from gdrive: %w", err)
	}
	return resp.Body, nil
}

func (g *GDriveStore) Delete(ctx context.Context, name string) error {
	id, err := g.findFile(ctx, name)
	if err != nil {
		return err
	}

	if err := g.service.Files.Delete(id).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete from gdrive: %w", err)
	}
	return nil
}

func (g *GDriveStore) findFile(ctx context.Context, name string) (string, error) {
	query := fmt.Sprintf("'%s' in parents and name='%s' and trashed=false", g.folderID, name)

	list, err := g.service.Files.List().Q(query).Fields("files(id)").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("find gdrive file: %w", err)
	}
	if len(list.Files) == 0 {
		return "", fmt.Errorf("gdrive file not found: %s", name)
	}
	return list.Files[0].Id, nil
}
