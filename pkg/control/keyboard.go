package control

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/eiannone/keyboard"
)

// KeyMap binds keys to triggers. Runes match printable keys, Keys match
// special keys.
type KeyMap struct {
	Runes map[rune]Trigger
	Keys  map[keyboard.Key]Trigger
}

// DefaultKeyMap: space toggles recording, esc stops playback, ctrl-c quits.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		// Depending on the terminal, space arrives as a rune or as KeySpace.
		Runes: map[rune]Trigger{' ': ToggleRecording},
		Keys: map[keyboard.Key]Trigger{
			keyboard.KeySpace: ToggleRecording,
			keyboard.KeyEsc:   StopPlayback,
			keyboard.KeyCtrlC: Quit,
		},
	}
}

// Lookup returns the trigger bound to a key event, if any.
func (m KeyMap) Lookup(char rune, key keyboard.Key) (Trigger, bool) {
	if key != 0 {
		t, ok := m.Keys[key]
		return t, ok
	}
	t, ok := m.Runes[char]
	return t, ok
}

// Keyboard reads raw keys from the terminal.
type Keyboard struct {
	keys   KeyMap
	out    chan Trigger
	done   chan struct{}
	logger *slog.Logger

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewKeyboard puts the terminal in raw mode and starts watching keys.
func NewKeyboard(keys KeyMap, logger *slog.Logger) (*Keyboard, error) {
	events, err := keyboard.GetKeys(16)
	if err != nil {
		return nil, fmt.Errorf("control: open keyboard: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	k := &Keyboard{
		keys:   keys,
		out:    make(chan Trigger, 4),
		done:   make(chan struct{}),
		logger: logger.With("component", "control.keyboard"),
	}
	k.wg.Add(1)
	go k.watch(events)
	return k, nil
}

func (k *Keyboard) watch(events <-chan keyboard.KeyEvent) {
	defer k.wg.Done()
	defer close(k.out)

	for {
		select {
		case <-k.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Err != nil {
				k.logger.Warn("keyboard read failed", "error", ev.Err)
				continue
			}
			t, ok := k.keys.Lookup(ev.Rune, ev.Key)
			if !ok {
				continue
			}
			k.logger.Debug("key trigger", "trigger", t.String())
			select {
			case k.out <- t:
			case <-k.done:
				return
			}
		}
	}
}

// Triggers returns the trigger stream.
func (k *Keyboard) Triggers() <-chan Trigger {
	return k.out
}

// Close restores the terminal.
func (k *Keyboard) Close() error {
	var err error
	k.closeOnce.Do(func() {
		close(k.done)
		err = keyboard.Close()
		k.wg.Wait()
	})
	return err
}

var _ Source = (*Keyboard)(nil)
