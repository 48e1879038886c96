package logging

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ErrBadTopic: z topicu nejde určit název služby.
var ErrBadTopic = errors.New("neplatný topic logu")

// Collector zapisuje logy přijaté z MQTT do souboru <dir>/<služba>.log.
// Každá služba má vlastní rotovaný soubor, otevřený při první zprávě.
type Collector struct {
	dir string

	mu    sync.Mutex
	files map[string]*lumberjack.Logger
}

func NewCollector(dir string) *Collector {
	return &Collector{dir: dir, files: make(map[string]*lumberjack.Logger)}
}

// Handle zpracuje jednu zprávu. Topic má tvar "<prefix>/<služba>[/...]".
func (c *Collector) Handle(topic string, payload []byte) error {
	service, err := serviceFromTopic(topic)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.files[service]
	if !ok {
		f = NewRotatingFile(filepath.Join(c.dir, service+".log"))
		c.files[service] = f
	}

	line := payload
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(append(make([]byte, 0, len(payload)+1), payload...), '\n')
	}
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("zápis logu služby %s selhal: %w", service, err)
	}
	return nil
}

// Close zavře všechny otevřené soubory.
func (c *Collector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for name, f := range c.files {
		errs = append(errs, f.Close())
		delete(c.files, name)
	}
	return errors.Join(errs...)
}

func serviceFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return "", fmt.Errorf("%w: %q", ErrBadTopic, topic)
	}
	name := parts[1]
	// Název jde do cesty k souboru.
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `\:`) {
		return "", fmt.Errorf("%w: %q", ErrBadTopic, topic)
	}
	return name, nil
}
