package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/text-extract-pipeline/internal/failure"
	"github.com/fpang/text-extract-pipeline/internal/jsonutil"
)

// maxInlineBytes is the largest recording sent inline with the request.
// Larger recordings go through the Files API.
const maxInlineBytes = 18 << 20

const transcriptionInstruction = `You transcribe audio recordings verbatim.
Respond with a single JSON object and nothing else:
{"speech_detected": bool, "transcript": string, "language": string, "confidence": number}
- "transcript" is the exact spoken words in reading order, one paragraph per speaker turn. Do not summarize, translate or add commentary.
- "language" is the BCP-47 code of the spoken language.
- "confidence" is your confidence in the transcript between 0 and 1.
- If the recording contains no intelligible speech, set "speech_detected" to false and "transcript" to "".`

type geminiTranscript struct {
	SpeechDetected bool    `json:"speech_detected"`
	Transcript     string  `json:"transcript"`
	Language       string  `json:"language"`
	Confidence     float64 `json:"confidence"`
}

// GeminiTranscriber transcribes recordings with a Gemini model.
type GeminiTranscriber struct {
	client       *genai.Client
	model        string
	pollInterval time.Duration
}

// NewGeminiTranscriber creates a transcriber using the given model name.
func NewGeminiTranscriber(client *genai.Client, model string) *GeminiTranscriber {
	return &GeminiTranscriber{client: client, model: model, pollInterval: 3 * time.Second}
}

// NewGeminiClient creates a Gemini API client for apiKey.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, errors.New("GEMINI_API_KEY is not set")
	}
	return genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
}

// Transcribe sends the recording to Gemini and parses the JSON reply.
func (g *GeminiTranscriber) Transcribe(ctx context.Context, req Request) (*Transcript, error) {
	mimeType := geminiMIMEType(req.ContentType)

	var media *genai.Part
	if req.Size > 0 && req.Size <= maxInlineBytes {
		data, err := os.ReadFile(req.Path)
		if err != nil {
			return nil, failure.Transient(req.Name, "failed to read recording", err)
		}
		media = &genai.Part{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}}
	} else {
		file, err := g.upload(ctx, req, mimeType)
		if err != nil {
			return nil, err
		}
		defer func() {
			// Uploaded files expire on their own; deletion just frees quota sooner.
			if _, err := g.client.Files.Delete(context.WithoutCancel(ctx), file.Name, nil); err != nil {
				log.Debug().Err(err).Str("file", file.Name).Msg("Failed to delete uploaded recording")
			}
		}()
		media = &genai.Part{FileData: &genai.FileData{MIMEType: mimeType, FileURI: file.URI}}
	}

	prompt := "Transcribe this recording."
	if req.Language != "" {
		prompt += " The expected language is " + req.Language + "."
	}

	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: transcriptionInstruction}}},
		ResponseMIMEType:  "application/json",
		Temperature:       genai.Ptr[float32](0),
	}
	contents := []*genai.Content{{Role: "user", Parts: []*genai.Part{media, {Text: prompt}}}}

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return nil, classifyGeminiError(req.Name, err)
	}

	out, err := jsonutil.ParseJSON[geminiTranscript](resp.Text())
	if err != nil {
		return nil, failure.Transient(req.Name, "transcription reply was not valid JSON", err)
	}

	log.Info().
		Str("name", req.Name).
		Str("model", g.model).
		Bool("speech", out.SpeechDetected).
		Int("chars", len(out.Transcript)).
		Dur("took", time.Since(start)).
		Msg("Transcription complete")

	return &Transcript{
		Text:           strings.TrimSpace(out.Transcript),
		Confidence:     out.Confidence,
		Language:       out.Language,
		SpeechDetected: out.SpeechDetected,
	}, nil
}

// upload stores a large recording through the Files API and waits until it
// is ready to be referenced.
func (g *GeminiTranscriber) upload(ctx context.Context, req Request, mimeType string) (*genai.File, error) {
	f, err := os.Open(req.Path)
	if err != nil {
		return nil, failure.Transient(req.Name, "failed to open recording", err)
	}
	defer f.Close()

	log.Info().Str("name", req.Name).Int64("size_bytes", req.Size).Msg("Uploading recording to Gemini Files API")

	file, err := g.client.Files.Upload(ctx, f, &genai.UploadFileConfig{MIMEType: mimeType})
	if err != nil {
		return nil, classifyGeminiError(req.Name, err)
	}

	for file.State == genai.FileStateProcessing {
		select {
		case <-ctx.Done():
			return nil, failure.Transient(req.Name, "cancelled while waiting for file processing", ctx.Err())
		case <-time.After(g.pollInterval):
		}
		file, err = g.client.Files.Get(ctx, file.Name, nil)
		if err != nil {
			return nil, classifyGeminiError(req.Name, err)
		}
	}
	if file.State == genai.FileStateFailed {
		return nil, failure.New(failure.KindCorruptSource, req.Name, "transcription service could not process the recording")
	}
	return file, nil
}

// classifyGeminiError maps Gemini API failures onto the failure taxonomy.
// Rate limits, timeouts and server errors are transient. A rejected request
// means the recording itself was unusable. Authentication failures are
// configuration faults.
func classifyGeminiError(name string, err error) error {
	// The SDK returns APIError by value.
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return failure.Transient(name, "transcription request failed", err)
	}

	switch {
	case apiErr.Code == 400:
		return failure.Wrap(failure.KindCorruptSource, name, "transcription service rejected the recording", err)
	case apiErr.Code == 401 || apiErr.Code == 403:
		log.Error().Int("code", apiErr.Code).Msg("Gemini authentication failed")
		return failure.Wrap(failure.KindInternalFault, name, "transcription service credentials rejected", err)
	case apiErr.Code == 408 || apiErr.Code == 429 || apiErr.Code >= 500:
		return failure.Transient(name, fmt.Sprintf("transcription service returned %d", apiErr.Code), err)
	default:
		return failure.Wrap(failure.KindInternalFault, name, fmt.Sprintf("transcription service returned %d: %s", apiErr.Code, apiErr.Message), err)
	}
}

// geminiMIMEType maps common aliases onto the audio types Gemini accepts.
func geminiMIMEType(contentType string) string {
	switch contentType {
	case "audio/mpeg", "audio/mpeg3", "audio/x-mpeg-3":
		return "audio/mp3"
	case "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return "audio/wav"
	case "audio/x-m4a", "audio/m4a", "audio/mp4":
		return "audio/aac"
	case "audio/x-flac":
		return "audio/flac"
	case "":
		return "audio/wav"
	}
	return contentType
}
