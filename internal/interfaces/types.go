package interfaces

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OperationKind selects which provider capability a request targets.
type OperationKind string

const (
	KindText        OperationKind = "text"
	KindMultimodal  OperationKind = "multimodal"
	KindImage       OperationKind = "image"
	KindVideo       OperationKind = "video"
	KindVideoStatus OperationKind = "video-status"
)

// Endpoint names accepted in the request envelope.
const (
	EndpointGenerateContent           = "generate-content"
	EndpointGenerateContentWithImages = "generate-content-with-images"
	EndpointGenerateImages            = "generate-images"
	EndpointGenerateStyledImage       = "generate-styled-image"
	EndpointGenerateVideo             = "generate-video"
	EndpointVideoOperationStatus      = "video-operation-status"
	EndpointHealth                    = "health"
	EndpointPing                      = "ping"
)

// Endpoints lists the operation endpoints in the order they are advertised by the health check.
var Endpoints = []string{
	EndpointGenerateContent,
	EndpointGenerateContentWithImages,
	EndpointGenerateImages,
	EndpointGenerateStyledImage,
	EndpointGenerateVideo,
	EndpointVideoOperationStatus,
}

// NormalizeEndpoint trims name and resolves it to a known endpoint.
// Only generate-styled-image is matched case-insensitively; the rest must match exactly.
func NormalizeEndpoint(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if strings.EqualFold(trimmed, EndpointGenerateStyledImage) {
		return EndpointGenerateStyledImage, nil
	}
	switch trimmed {
	case EndpointHealth, EndpointPing:
		return trimmed, nil
	}
	for _, known := range Endpoints {
		if trimmed == known {
			return trimmed, nil
		}
	}
	return "", &UnknownEndpointError{Endpoint: trimmed}
}

// IsHealthEndpoint reports whether endpoint is the stateless health check.
func IsHealthEndpoint(endpoint string) bool {
	return endpoint == EndpointHealth || endpoint == EndpointPing
}

// GenerationRequest is the tagged union of normalized operation requests.
type GenerationRequest interface {
	Kind() OperationKind
	Validate() error
}

// InlineImage is an image embedded in a request as base64 bytes.
type InlineImage struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// TextRequest asks for plain text generation.
type TextRequest struct {
	Prompt            string `json:"prompt"`
	SystemInstruction string `json:"systemInstruction,omitempty"`
}

func (TextRequest) Kind() OperationKind { return KindText }

func (r TextRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return &ValidationError{Msg: "prompt is required"}
	}
	return nil
}

// MultimodalRequest asks for text generation grounded on inline images.
type MultimodalRequest struct {
	Prompt            string        `json:"prompt"`
	Images            []InlineImage `json:"images"`
	SystemInstruction string        `json:"systemInstruction,omitempty"`
}

func (MultimodalRequest) Kind() OperationKind { return KindMultimodal }

func (r MultimodalRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return &ValidationError{Msg: "prompt is required"}
	}
	for i, img := range r.Images {
		if strings.TrimSpace(img.Data) == "" {
			return &ValidationError{Msg: fmt.Sprintf("images[%d].data is required", i)}
		}
	}
	return nil
}

// ImageSynthesisRequest asks for a single generated image.
// ReferenceImages holds raw base64 payloads or data URLs.
type ImageSynthesisRequest struct {
	Prompt          string   `json:"prompt"`
	ReferenceImages []string `json:"imageUrls"`
	Quality         string   `json:"quality"`
	AspectRatio     string   `json:"aspectRatio"`
}

func (ImageSynthesisRequest) Kind() OperationKind { return KindImage }

func (r ImageSynthesisRequest) Validate() error {
	for i, ref := range r.ReferenceImages {
		if _, data := ParseImageRef(ref); data == "" {
			return &ValidationError{Msg: fmt.Sprintf("imageUrls[%d] has no image data", i)}
		}
	}
	if strings.TrimSpace(r.Prompt) == "" && len(r.ReferenceImages) == 0 {
		return &ValidationError{Msg: "prompt or reference images are required"}
	}
	return nil
}

// VideoSynthesisRequest asks for a generated video. Only a pending handle is ever returned.
type VideoSynthesisRequest struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspectRatio"`
	Resolution  string `json:"resolution"`
	Image       string `json:"image,omitempty"`
}

func (VideoSynthesisRequest) Kind() OperationKind { return KindVideo }

func (r VideoSynthesisRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return &ValidationError{Msg: "prompt is required"}
	}
	return nil
}

// VideoStatusRequest polls a previously returned video operation.
type VideoStatusRequest struct {
	OperationName string `json:"operationName"`
}

func (VideoStatusRequest) Kind() OperationKind { return KindVideoStatus }

func (r VideoStatusRequest) Validate() error {
	if strings.TrimSpace(r.OperationName) == "" {
		return &ValidationError{Msg: "operationName is required"}
	}
	return nil
}

// imagesRequest is the wire shape of generate-images, which carries no tier or references.
type imagesRequest struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspectRatio"`
}

// ImagesPromptStyle is appended to generate-images prompts.
const ImagesPromptStyle = "Style: realistic, photographic detail."

// ParseRequest decodes raw into the request type for endpoint and validates it.
// endpoint must already be normalized. Decoding failures are reported as ValidationError.
func ParseRequest(endpoint string, raw []byte) (GenerationRequest, error) {
	var req GenerationRequest
	switch endpoint {
	case EndpointGenerateContent:
		var r TextRequest
		if err := decode(raw, &r); err != nil {
			return nil, err
		}
		req = r
	case EndpointGenerateContentWithImages:
		var r MultimodalRequest
		if err := decode(raw, &r); err != nil {
			return nil, err
		}
		req = r
	case EndpointGenerateImages:
		var r imagesRequest
		if err := decode(raw, &r); err != nil {
			return nil, err
		}
		if strings.TrimSpace(r.Prompt) == "" {
			return nil, &ValidationError{Msg: "prompt is required"}
		}
		req = ImageSynthesisRequest{
			Prompt:      strings.TrimSpace(r.Prompt) + "\n\n" + ImagesPromptStyle,
			Quality:     "standard",
			AspectRatio: r.AspectRatio,
		}
	case EndpointGenerateStyledImage:
		var r ImageSynthesisRequest
		if err := decode(raw, &r); err != nil {
			return nil, err
		}
		req = r
	case EndpointGenerateVideo:
		var r VideoSynthesisRequest
		if err := decode(raw, &r); err != nil {
			return nil, err
		}
		req = r
	case EndpointVideoOperationStatus:
		var r VideoStatusRequest
		if err := decode(raw, &r); err != nil {
			return nil, err
		}
		req = r
	default:
		return nil, &UnknownEndpointError{Endpoint: endpoint}
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

func decode(raw []byte, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return &ValidationError{Msg: fmt.Sprintf("invalid request fields: %v", err)}
	}
	return nil
}

// ResultKind discriminates GenerationResult.
type ResultKind int

const (
	ResultText ResultKind = iota + 1
	ResultImage
	ResultOperation
)

// Operation is a pending long-running operation handle.
type Operation struct {
	Name string `json:"name"`
	Done bool   `json:"done"`
}

// GenerationResult holds exactly one populated variant selected by Kind.
type GenerationResult struct {
	Kind      ResultKind
	Text      string
	Image     string
	Operation *Operation
	Message   string

	// Model names the upstream model that produced the result, when one was called.
	Model string
}

// TextResult builds a text variant.
func TextResult(text, model string) GenerationResult {
	return GenerationResult{Kind: ResultText, Text: text, Model: model}
}

// ImageResult builds an image variant from a data URL.
func ImageResult(dataURL, model string) GenerationResult {
	return GenerationResult{Kind: ResultImage, Image: dataURL, Model: model}
}

// OperationResult builds a pending-operation variant.
func OperationResult(op Operation, message string) GenerationResult {
	return GenerationResult{Kind: ResultOperation, Operation: &op, Message: message}
}
