package executor

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/router-for-me/GenGateway/internal/config"
	"github.com/router-for-me/GenGateway/internal/interfaces"
	"github.com/router-for-me/GenGateway/internal/registry"
	"github.com/tidwall/sjson"
)

const (
	// vertexAPIVersion aligns with current public Vertex Generative AI API.
	vertexAPIVersion = "v1"

	generateAction = "generateContent"
)

// buildContentsBody returns a single-turn generateContent body.
// Inline images are always placed before the text part.
func buildContentsBody(images []interfaces.InlineImage, prompt, systemInstruction string) []byte {
	body := []byte(`{"contents":[{"role":"user","parts":[]}]}`)
	for _, img := range images {
		mimeType := strings.TrimSpace(img.MimeType)
		if mimeType == "" {
			mimeType = interfaces.DefaultImageMimeType
		}
		part := []byte(`{"inlineData":{}}`)
		part, _ = sjson.SetBytes(part, "inlineData.mimeType", mimeType)
		part, _ = sjson.SetBytes(part, "inlineData.data", img.Data)
		body, _ = sjson.SetRawBytes(body, "contents.0.parts.-1", part)
	}
	if strings.TrimSpace(prompt) != "" {
		part, _ := sjson.SetBytes([]byte(`{}`), "text", prompt)
		body, _ = sjson.SetRawBytes(body, "contents.0.parts.-1", part)
	}
	if strings.TrimSpace(systemInstruction) != "" {
		body, _ = sjson.SetBytes(body, "systemInstruction.parts.0.text", systemInstruction)
	}
	return body
}

// buildImageBody returns the image synthesis body for profile. A fresh body is built for
// every profile so that primary-only parameters never leak into a fallback attempt.
func buildImageBody(req interfaces.ImageSynthesisRequest, profile registry.ModelProfile) []byte {
	images := make([]interfaces.InlineImage, 0, len(req.ReferenceImages))
	for _, ref := range req.ReferenceImages {
		mimeType, data := interfaces.ParseImageRef(ref)
		if data == "" {
			continue
		}
		images = append(images, interfaces.InlineImage{MimeType: mimeType, Data: data})
	}
	body := buildContentsBody(images, req.Prompt, "")
	body, _ = sjson.SetBytes(body, "generationConfig.responseModalities", []string{"IMAGE"})
	if aspectRatio := strings.TrimSpace(req.AspectRatio); aspectRatio != "" {
		body, _ = sjson.SetBytes(body, "generationConfig.imageConfig.aspectRatio", aspectRatio)
	}
	if profile.SupportsImageSize && profile.ImageSize != "" {
		body, _ = sjson.SetBytes(body, "generationConfig.imageConfig.imageSize", profile.ImageSize)
	}
	return body
}

// modelURL returns the generateContent URL for profile. Global profiles use the global host
// and the "global" location; regional profiles use the region-qualified host and path.
func (r *Router) modelURL(profile registry.ModelProfile, cfg config.GatewayConfig) string {
	base, location := r.globalEndpoint, registry.LocationGlobal
	if !profile.IsGlobal() {
		location = cfg.Region
		base = r.regionalEndpoint
		if strings.Contains(base, "%s") {
			base = fmt.Sprintf(base, location)
		}
	}
	return fmt.Sprintf("%s/%s/projects/%s/locations/%s/publishers/google/models/%s:%s",
		base, vertexAPIVersion, url.PathEscape(cfg.ProjectID), url.PathEscape(location), profile.ModelID, generateAction)
}
