package assets

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/lumen/engine/assets/loaders"
	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

type AssetInfo struct {
	Path       string
	Type       metadata.ResourceType
	LastLoaded time.Time
	ModTime    time.Time
}

// AssetManager indexes shader and model files, loads them through the
// registered loaders and, when watching, fires EVENT_CODE_ASSET_CHANGED
// with C[0] set to the path of every changed asset.
type AssetManager struct {
	bus     *core.EventBus
	assets  map[string]AssetInfo
	loaders map[metadata.ResourceType]Loader

	mutex sync.RWMutex

	fsnotify *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	isClosed bool
}

func NewAssetManager(bus *core.EventBus) *AssetManager {
	am := &AssetManager{
		bus:     bus,
		assets:  make(map[string]AssetInfo),
		loaders: make(map[metadata.ResourceType]Loader),
		done:    make(chan struct{}),
	}
	am.registerLoader(metadata.ResourceTypeShader, &loaders.ShaderLoader{})
	am.registerLoader(metadata.ResourceTypeModel, &loaders.ModelLoader{})
	return am
}

// Initialize indexes every directory in dirs. With watch set, the
// directories are also watched for changes until Close.
func (am *AssetManager) Initialize(watch bool, dirs ...string) error {
	if watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return errors.Wrap(err, "creating asset watcher")
		}
		am.fsnotify = w
		am.wg.Add(1)
		go am.start()
	}
	for _, d := range dirs {
		if d == "" {
			continue
		}
		if err := am.watchRecursive(d); err != nil {
			core.LogError("failed to index %s: %s", d, err)
			return errors.Wrapf(err, "indexing %s", d)
		}
	}
	return nil
}

// Close stops the watcher. It is safe to call more than once.
func (am *AssetManager) Close() error {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return nil
	}
	am.isClosed = true
	am.mutex.Unlock()

	if am.fsnotify == nil {
		return nil
	}
	close(am.done)
	am.wg.Wait()
	return am.fsnotify.Close()
}

func (am *AssetManager) registerLoader(assetType metadata.ResourceType, loader Loader) {
	am.loaders[assetType] = loader
}

// LoadShader reads a compiled SPIR-V module.
func (am *AssetManager) LoadShader(path string) ([]uint32, error) {
	res, err := am.LoadAsset(path, metadata.ResourceTypeShader, nil)
	if err != nil {
		return nil, err
	}
	return res.Data.([]uint32), nil
}

// LoadModel imports an OBJ file.
func (am *AssetManager) LoadModel(path string, params loaders.ModelParams) (*metadata.MeshData, error) {
	res, err := am.LoadAsset(path, metadata.ResourceTypeModel, params)
	if err != nil {
		return nil, err
	}
	return res.Data.(*metadata.MeshData), nil
}

// LoadAsset loads path with the loader registered for resourceType. Paths
// outside the indexed directories are loaded too and indexed on the way.
func (am *AssetManager) LoadAsset(path string, resourceType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	path = filepath.Clean(path)
	loader, ok := am.loaders[resourceType]
	if !ok {
		return nil, errors.Wrapf(core.ErrAssetLoad, "no loader registered for asset type %s", resourceType)
	}
	res, err := loader.Load(path, resourceType, params)
	if err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	am.mutex.Lock()
	info := am.assets[path]
	info.Path = path
	info.Type = resourceType
	info.LastLoaded = time.Now()
	am.assets[path] = info
	am.mutex.Unlock()
	return res, nil
}

func (am *AssetManager) UnloadAsset(res *metadata.Resource) error {
	if res == nil {
		return nil
	}
	loader, ok := am.loaders[determineAssetType(res.FullPath)]
	if !ok {
		return nil
	}
	return loader.Unload(res)
}

// Assets returns a snapshot of the index.
func (am *AssetManager) Assets() []AssetInfo {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	out := make([]AssetInfo, 0, len(am.assets))
	for _, a := range am.assets {
		out = append(out, a)
	}
	return out
}

func (am *AssetManager) start() {
	defer am.wg.Done()
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			if e.Op&fsnotify.Create != 0 {
				if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
					if err := am.watchRecursive(e.Name); err != nil {
						core.LogWarn("failed to watch %s: %s", e.Name, err)
					}
					continue
				}
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				if am.handleFileEvent(e.Name) {
					core.LogInfo("asset changed: %s", e.Name)
					am.bus.Fire(core.EVENT_CODE_ASSET_CHANGED, am, core.EventContext{C: [2]string{filepath.Clean(e.Name)}})
				}
			}
			if e.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				am.removeAsset(e.Name)
			}

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError(err.Error())

		case <-am.done:
			return
		}
	}
}

// watchRecursive indexes every asset below path and, when watching, adds
// each directory to the watch list.
func (am *AssetManager) watchRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			if am.fsnotify != nil {
				return am.fsnotify.Add(walkPath)
			}
			return nil
		}
		am.handleFileEvent(walkPath)
		return nil
	})
}

// handleFileEvent indexes path. It reports whether the file is a known
// asset type whose modification time moved.
func (am *AssetManager) handleFileEvent(path string) bool {
	path = filepath.Clean(path)
	assetType := determineAssetType(path)
	if assetType == metadata.ResourceTypeNone {
		return false
	}
	var mod time.Time
	if s, err := os.Stat(path); err == nil {
		mod = s.ModTime()
	}

	am.mutex.Lock()
	defer am.mutex.Unlock()
	prev, existed := am.assets[path]
	am.assets[path] = AssetInfo{
		Path:       path,
		Type:       assetType,
		LastLoaded: prev.LastLoaded,
		ModTime:    mod,
	}
	// editors often emit several writes for one save
	return !existed || !prev.ModTime.Equal(mod) || mod.IsZero()
}

func (am *AssetManager) removeAsset(path string) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	delete(am.assets, filepath.Clean(path))
}

func determineAssetType(path string) metadata.ResourceType {
	switch filepath.Ext(path) {
	case ".spv":
		return metadata.ResourceTypeShader
	case ".obj":
		return metadata.ResourceTypeModel
	default:
		return metadata.ResourceTypeNone
	}
}
