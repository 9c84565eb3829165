package tts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/singleflight"
)

// Cache is the content-addressed TTS store. It guarantees at-most-one
// concurrent synthesis per key by joining duplicate in-flight requests onto
// a single singleflight.Group call; there is never a global lock over the
// whole cache, only the per-key coordination singleflight already provides.
type Cache struct {
	dir    string
	enable bool
	synth  *Synthesiser
	group  singleflight.Group
}

func NewCache(dir string, enabled bool, synth *Synthesiser) *Cache {
	return &Cache{dir: dir, enable: enabled, synth: synth}
}

// Key returns the lowercase hex SHA-256 digest of text, the cache's
// addressing scheme.
func Key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// GetOrSynth returns cached bytes on a hit, joins an in-flight synthesis on
// a race, or starts a new synthesis on a cold miss. All callers sharing a
// key receive byte-identical results. The reported hit is only true for a
// disk hit; callers that join an in-flight singleflight call are counted as
// a miss since they still paid for synthesis, just not their own call to it.
func (c *Cache) GetOrSynth(ctx context.Context, text string) (Artifact, bool, error) {
	key := Key(text)

	if c.enable {
		if artifact, ok, err := c.readDisk(key); err != nil {
			return Artifact{}, false, err
		} else if ok {
			return artifact, true, nil
		}
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under the key's flight: a call that finished between our
		// disk miss and this Do has already written the entry.
		if c.enable {
			if artifact, ok, err := c.readDisk(key); err != nil {
				return Artifact{}, err
			} else if ok {
				return artifact, nil
			}
		}
		artifact, err := c.synth.Synthesize(ctx, text)
		if err != nil {
			return Artifact{}, err
		}
		if c.enable {
			if werr := c.writeDisk(key, artifact); werr != nil {
				return Artifact{}, werr
			}
		}
		return artifact, nil
	})
	if err != nil {
		return Artifact{}, false, err
	}
	return v.(Artifact), false, nil
}

type diskEntry struct {
	ContentType string `json:"content_type"`
	SampleRate  int    `json:"sample_rate"`
	Channels    int    `json:"channels"`
	Tier        string `json:"tier"`
}

func (c *Cache) audioPath(key string) string  { return filepath.Join(c.dir, key+".audio") }
func (c *Cache) metaPath(key string) string   { return filepath.Join(c.dir, key+".json") }
func (c *Cache) tmpPath(key, suffix string) string {
	return filepath.Join(c.dir, fmt.Sprintf(".%s%s.tmp", key, suffix))
}

func (c *Cache) readDisk(key string) (Artifact, bool, error) {
	audio, err := os.ReadFile(c.audioPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return Artifact{}, false, nil
		}
		return Artifact{}, false, err
	}
	metaRaw, err := os.ReadFile(c.metaPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return Artifact{}, false, nil
		}
		return Artifact{}, false, err
	}
	var meta diskEntry
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		return Artifact{}, false, err
	}
	return Artifact{
		Audio:       audio,
		ContentType: meta.ContentType,
		SampleRate:  meta.SampleRate,
		Channels:    meta.Channels,
		Tier:        meta.Tier,
	}, true, nil
}

// writeDisk streams bytes to a temp file and renames into place so partial
// writes are never observable to a concurrent reader.
func (c *Cache) writeDisk(key string, artifact Artifact) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return err
	}

	if err := atomicWrite(c.tmpPath(key, ".audio"), c.audioPath(key), artifact.Audio); err != nil {
		return err
	}

	metaRaw, err := json.Marshal(diskEntry{
		ContentType: artifact.ContentType,
		SampleRate:  artifact.SampleRate,
		Channels:    artifact.Channels,
		Tier:        artifact.Tier,
	})
	if err != nil {
		return err
	}
	return atomicWrite(c.tmpPath(key, ".json"), c.metaPath(key), metaRaw)
}

func atomicWrite(tmpPath, finalPath string, data []byte) error {
	f, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, finalPath)
}
