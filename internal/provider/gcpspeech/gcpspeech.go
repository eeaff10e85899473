// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package gcpspeech adapts Google Cloud Speech-to-Text to provider.Transcriber.
package gcpspeech

import (
	"context"
	"os"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/sigil-dev/reel/internal/provider"
	reelerr "github.com/sigil-dev/reel/pkg/errors"
)

// Audio produced by media.FFmpeg.ExtractAudio.
const (
	sampleRateHertz = 16000
	languageCode    = "en-US"
)

func init() {
	provider.RegisterFactory("gcpspeech", func(ctx context.Context, s provider.Settings) (provider.Provider, error) {
		return New(ctx, Config{APIKey: s.APIKey, CredentialsFile: s.CredentialsFile, Endpoint: s.Endpoint})
	})
}

// Config selects credentials. With neither field set the client falls back
// to Application Default Credentials.
type Config struct {
	APIKey          string
	CredentialsFile string
	Endpoint        string
}

type Provider struct {
	client *speech.Client
}

func New(ctx context.Context, cfg Config) (*Provider, error) {
	var opts []option.ClientOption
	switch {
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, reelerr.Wrap(err, reelerr.CodeProviderRequestInvalid,
			"gcpspeech: creating client", reelerr.FieldProvider("gcpspeech"))
	}
	return &Provider{client: c}, nil
}

func (p *Provider) Name() string { return "gcpspeech" }

func (p *Provider) Available(_ context.Context) bool { return p.client != nil }

func (p *Provider) Status(ctx context.Context) (provider.ProviderStatus, error) {
	return provider.ProviderStatus{Available: p.Available(ctx), Provider: "gcpspeech", Message: "ok"}, nil
}

func (p *Provider) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

// Transcriber returns a transcriber for a Speech-to-Text model such as
// "latest_long" or "video".
func (p *Provider) Transcriber(model string) provider.Transcriber {
	return &transcriber{client: p.client, model: model}
}

type transcriber struct {
	client *speech.Client
	model  string
}

func (t *transcriber) Transcribe(ctx context.Context, audioPath string) ([]provider.Fragment, error) {
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, reelerr.Wrap(err, reelerr.CodeProviderRequestInvalid,
			"gcpspeech: reading audio", reelerr.FieldPath(audioPath))
	}
	if len(audio) == 0 {
		return nil, nil
	}

	op, err := t.client.LongRunningRecognize(ctx, recognizeRequest(t.model, audio))
	if err != nil {
		return nil, classify(err)
	}
	resp, err := op.Wait(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return fragments(resp), nil
}

func recognizeRequest(model string, audio []byte) *speechpb.LongRunningRecognizeRequest {
	return &speechpb.LongRunningRecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            sampleRateHertz,
			AudioChannelCount:          1,
			LanguageCode:               languageCode,
			Model:                      model,
			EnableAutomaticPunctuation: true,
			EnableWordTimeOffsets:      true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	}
}

// fragments turns each recognition result into one fragment. Word offsets
// give the span when present; otherwise the span runs from the previous
// result's end to this result's end.
func fragments(resp *speechpb.LongRunningRecognizeResponse) []provider.Fragment {
	if resp == nil {
		return nil
	}
	var out []provider.Fragment
	prevEnd := 0.0
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		alt := alts[0]
		end := seconds(r.GetResultEndTime())
		text := strings.TrimSpace(alt.GetTranscript())
		if text == "" {
			prevEnd = max(prevEnd, end)
			continue
		}

		start := prevEnd
		if words := alt.GetWords(); len(words) > 0 {
			start = seconds(words[0].GetStartTime())
			if e := seconds(words[len(words)-1].GetEndTime()); e > 0 {
				end = e
			}
		}
		if end < start {
			end = start
		}
		out = append(out, provider.Fragment{Start: start, End: end, Text: text})
		prevEnd = end
	}
	return out
}

func seconds(d *durationpb.Duration) float64 {
	if d == nil {
		return 0
	}
	return d.AsDuration().Seconds()
}

func classify(err error) error {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.FailedPrecondition:
		return reelerr.Wrap(err, reelerr.CodeProviderRequestInvalid,
			"gcpspeech: request rejected", reelerr.FieldProvider("gcpspeech"))
	}
	return reelerr.Wrap(err, reelerr.CodeProviderUpstreamFailure,
		"gcpspeech: recognition failed", reelerr.FieldProvider("gcpspeech"))
}
