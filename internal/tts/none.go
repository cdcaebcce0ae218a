package tts

import "context"

// noneSynthesizer is the disabled provider. It never touches the
// network or the filesystem.
type noneSynthesizer struct{}

func (n *noneSynthesizer) Synthesize(ctx context.Context, text string) (*Artifact, error) {
	return nil, ErrUnavailable
}

func (n *noneSynthesizer) Provider() string { return ProviderNone }

func (n *noneSynthesizer) Available() bool { return false }
