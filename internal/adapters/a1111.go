package adapters

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ProhibitedTV/ChoomLang/internal/dsl"
)

const DefaultA1111URL = "http://127.0.0.1:7860"

const txt2imgPath = "/sdapi/v1/txt2img"

// a1111 param name -> txt2img payload field, for the integer fields.
var a1111IntFields = []struct{ param, field string }{
	{"width", "width"},
	{"height", "height"},
	{"steps", "steps"},
	{"seed", "seed"},
}

func a1111Txt2Img(ctx context.Context, params map[string]any, opts Options) (string, error) {
	batch := int64(1)
	if n, ok, err := intParam(params, "n"); ok {
		if err != nil || n < 1 {
			return "", errorf("a1111_txt2img param 'n' must be an integer >= 1")
		}
		batch = n
	}
	step := int64(opts.Step)
	if n, ok, err := intParam(params, "step"); ok {
		if err != nil {
			return "", errorf("a1111_txt2img %v", err)
		}
		step = n
	}

	payload := map[string]any{"prompt": stringParam(params, "prompt", "")}
	if _, ok := params["n"]; ok {
		payload["batch_size"] = batch
	}
	if _, ok := params["negative"]; ok {
		payload["negative_prompt"] = stringParam(params, "negative", "")
	}
	if _, ok := params["sampler"]; ok {
		payload["sampler_name"] = stringParam(params, "sampler", "")
	}
	if v, ok := params["cfg"]; ok {
		switch x := v.(type) {
		case int64, float64:
			payload["cfg_scale"] = x
		default:
			f, err := strconv.ParseFloat(stringParam(params, "cfg", ""), 64)
			if err != nil {
				return "", errorf("a1111_txt2img param 'cfg' must be a number")
			}
			payload["cfg_scale"] = f
		}
	}
	seed := "x"
	for _, f := range a1111IntFields {
		n, ok, err := intParam(params, f.param)
		if !ok {
			continue
		}
		if err != nil {
			return "", errorf("a1111_txt2img %v", err)
		}
		payload[f.field] = n
		if f.param == "seed" {
			seed = strconv.FormatInt(n, 10)
		}
	}

	if opts.DryRun {
		return "[]", nil
	}

	base := stringParam(params, "base_url", opts.A1111URL)
	if base == "" {
		base = DefaultA1111URL
	}
	images, err := postTxt2Img(ctx, opts, strings.TrimRight(base, "/")+txt2imgPath, payload)
	if err != nil {
		return "", err
	}

	files := make([]string, 0, len(images))
	for i, img := range images {
		name := fmt.Sprintf("a1111_txt2img_%04d_%02d_seed%s.png", step, i+1, seed)
		dest, rel, err := ResolveArtifactPath(opts.ArtifactsDir, name)
		if err != nil {
			return "", err
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(dest, img, 0o644); err != nil {
			return "", err
		}
		files = append(files, rel)
	}
	data, err := dsl.MarshalSorted(files, "")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func postTxt2Img(ctx context.Context, opts Options, url string, payload map[string]any) ([][]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := opts.httpClient().Do(req)
	if err != nil {
		return nil, &Error{Msg: fmt.Sprintf("a1111_txt2img request failed: %v", err), Err: err}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Msg: fmt.Sprintf("a1111_txt2img request failed: %v", err), Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errorf("a1111_txt2img request failed: HTTP %d %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out struct {
		Images []any `json:"images"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.Images == nil {
		return nil, errorf("a1111_txt2img response must include an 'images' list of base64 strings")
	}
	images := make([][]byte, 0, len(out.Images))
	for _, v := range out.Images {
		s, ok := v.(string)
		if !ok {
			return nil, errorf("a1111_txt2img response must include an 'images' list of base64 strings")
		}
		// some servers prefix a data URL header
		if _, rest, found := strings.Cut(s, ","); found && strings.HasPrefix(s, "data:") {
			s = rest
		}
		img, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, errorf("a1111_txt2img returned invalid base64 image data")
		}
		images = append(images, img)
	}
	return images, nil
}
