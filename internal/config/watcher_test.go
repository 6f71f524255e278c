package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/dictaform/internal/config"
)

const dictationYAML = `
server:
  log_level: info
providers:
  llm:
    name: openai
mapper:
  enabled: true
`

const dictationDebugYAML = `
server:
  log_level: debug
providers:
  llm:
    name: openai
mapper:
  enabled: true
  timeout: 2s
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// waitFor polls cond until it holds or d elapses.
func waitFor(d time.Duration, cond func() bool) bool {
	for deadline := time.Now().Add(d); time.Now().Before(deadline); {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

// reloads records every onChange call a watcher makes.
type reloads struct {
	mu    sync.Mutex
	pairs [][2]*config.Config
}

func (r *reloads) record(old, new *config.Config) {
	r.mu.Lock()
	r.pairs = append(r.pairs, [2]*config.Config{old, new})
	r.mu.Unlock()
}

func (r *reloads) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pairs)
}

func (r *reloads) last() (old, new *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pairs) == 0 {
		return nil, nil
	}
	p := r.pairs[len(r.pairs)-1]
	return p[0], p[1]
}

// watch writes content to a fresh config file and starts a watcher on it.
func watch(t *testing.T, content string, interval time.Duration) (string, *config.Watcher, *reloads) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dictaform.yaml")
	writeFile(t, path, content)

	r := &reloads{}
	w, err := config.NewWatcher(path, r.record, config.WithInterval(interval))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	// Let the first poll settle before the test touches the file.
	time.Sleep(60 * time.Millisecond)
	return path, w, r
}

func TestWatcher_InitialLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	_, w, _ := watch(t, dictationYAML, 50*time.Millisecond)
	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current returned nil")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log level=%q, want info", cfg.Server.LogLevel)
	}
	if cfg.Mapper.Timeout != config.DefaultMapperTimeout {
		t.Errorf("mapper timeout=%s, want default %s", cfg.Mapper.Timeout, config.DefaultMapperTimeout)
	}
}

func TestWatcher_ReloadReportsOldAndNew(t *testing.T) {
	t.Parallel()

	path, w, r := watch(t, dictationYAML, 50*time.Millisecond)
	writeFile(t, path, dictationDebugYAML)

	if !waitFor(2*time.Second, func() bool { return r.count() > 0 }) {
		t.Fatal("no reload observed")
	}
	old, cur := r.last()
	if old.Server.LogLevel != config.LogInfo || cur.Server.LogLevel != config.LogDebug {
		t.Errorf("reload %q -> %q, want info -> debug", old.Server.LogLevel, cur.Server.LogLevel)
	}
	if w.Current() != cur {
		t.Error("Current does not return the reloaded config")
	}
	if d := config.Diff(old, cur); !d.LogLevelChanged || !d.MapperChanged {
		t.Errorf("Diff=%+v, want log level and mapper changes", d)
	}
}

func TestWatcher_FileEventWithoutPolling(t *testing.T) {
	t.Parallel()

	// An hour-long poll leaves only fsnotify to notice the write.
	path, w, _ := watch(t, dictationYAML, time.Hour)
	writeFile(t, path, dictationDebugYAML)

	if !waitFor(2*time.Second, func() bool { return w.Current().Server.LogLevel == config.LogDebug }) {
		t.Fatal("file event did not trigger a reload")
	}
}

func TestWatcher_IgnoresUnusableContent(t *testing.T) {
	t.Parallel()

	for name, content := range map[string]string{
		"invalid": "server:\n  log_level: bananas\n",
		"empty":   "",
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			path, w, r := watch(t, dictationYAML, 50*time.Millisecond)
			writeFile(t, path, content)
			time.Sleep(300 * time.Millisecond)

			if n := r.count(); n != 0 {
				t.Errorf("onChange called %d times", n)
			}
			if cur := w.Current(); cur.Providers.LLM.Name != "openai" || cur.Server.LogLevel != config.LogInfo {
				t.Errorf("config replaced by %s file: %+v", name, cur.Server)
			}
		})
	}
}

func TestWatcher_TouchIsNotAReload(t *testing.T) {
	t.Parallel()

	path, _, r := watch(t, dictationYAML, 50*time.Millisecond)
	later := time.Now().Add(time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	if n := r.count(); n != 0 {
		t.Errorf("onChange called %d times for an unchanged file", n)
	}
}

func TestWatcher_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("NewWatcher accepted a missing file")
	}
}

func TestWatcher_StopTwice(t *testing.T) {
	t.Parallel()

	_, w, _ := watch(t, dictationYAML, 50*time.Millisecond)
	w.Stop()
	w.Stop()
}
