package recordstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"curator/internal/services"
)

// UploadContainer streams a binary file into a record's container field.
// Token refresh and a single 401 retry apply, same as field requests.
func (c *Client) UploadContainer(ctx context.Context, recordID, field, path string) error {
	if recordID == "" {
		return services.Wrap(services.ErrValidation, "recordstore", "upload", "record has no store id", nil)
	}

	body, contentType, err := containerBody(field, path)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/databases/%s/records/%s/containers/%s", c.baseURL, c.database, recordID, field)
	status, respBody, err := c.doUpload(ctx, url, body, contentType)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return c.classifyStatus("upload", status, respBody)
	}
	return nil
}

func containerBody(field, path string) ([]byte, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, "", services.Wrap(services.ErrValidation, "recordstore", "upload",
			fmt.Sprintf("container source %s unreadable", path), err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return nil, "", fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, "", fmt.Errorf("read container source: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("finalize multipart body: %w", err)
	}
	return buf.Bytes(), writer.FormDataContentType(), nil
}

func (c *Client) doUpload(ctx context.Context, url string, body []byte, contentType string) (int, []byte, error) {
	token, err := c.session(ctx)
	if err != nil {
		return 0, nil, err
	}

	status, respBody, err := c.doUploadWithToken(ctx, url, body, contentType, token)
	if err != nil {
		return 0, nil, err
	}
	if status != http.StatusUnauthorized {
		return status, respBody, nil
	}

	token, err = c.refreshSession(ctx, token)
	if err != nil {
		return 0, nil, err
	}
	return c.doUploadWithToken(ctx, url, body, contentType, token)
}

func (c *Client) doUploadWithToken(ctx context.Context, url string, body []byte, contentType, token string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, services.Wrap(services.ErrTransient, "recordstore", "upload", "upload request failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return 0, nil, services.Wrap(services.ErrTransient, "recordstore", "upload", "read upload response", err)
	}
	return resp.StatusCode, respBody, nil
}
