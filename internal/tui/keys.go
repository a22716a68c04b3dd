package tui

import "github.com/charmbracelet/bubbles/key"

type keyMap struct {
	up          key.Binding
	down        key.Binding
	esc         key.Binding
	quit        key.Binding
	sync        key.Binding
	keepLocal   key.Binding
	acceptMerge key.Binding
	discard     key.Binding
	version     key.Binding
}

var keys = keyMap{
	up:          key.NewBinding(key.WithKeys("up", "k")),
	down:        key.NewBinding(key.WithKeys("down", "j")),
	esc:         key.NewBinding(key.WithKeys("esc")),
	quit:        key.NewBinding(key.WithKeys("q", "ctrl+c")),
	sync:        key.NewBinding(key.WithKeys("s")),
	keepLocal:   key.NewBinding(key.WithKeys("l")),
	acceptMerge: key.NewBinding(key.WithKeys("m")),
	discard:     key.NewBinding(key.WithKeys("d")),
	version:     key.NewBinding(key.WithKeys("v")),
}
