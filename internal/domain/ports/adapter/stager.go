package adapter

import "context"

// StagedAsset is one input image downloaded to local disk and exposed at a
// public URL the vendor can fetch.
type StagedAsset struct {
	Name      string
	LocalPath string
	PublicURL string
}

// AssetStager downloads user-supplied input images into the staging area.
// Stage fails atomically: on any error the assets it already wrote are
// removed. Cleanup is called once the vendor no longer needs the inputs.
type AssetStager interface {
	Stage(ctx context.Context, sourceURLs []string) ([]StagedAsset, error)
	Cleanup(assets []StagedAsset)
}
