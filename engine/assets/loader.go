package assets

import "github.com/spaghettifunk/lumen/engine/renderer/metadata"

// Loader turns a file into a resource. params is loader specific.
type Loader interface {
	Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error)
	Unload(*metadata.Resource) error
}
