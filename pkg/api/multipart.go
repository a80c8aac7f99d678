package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
)

// MultipartBody — заранее собранное multipart/form-data тело.
//
// Тело собирается в байты один раз, чтобы повтор запроса (после 401 или
// 429) мог отправить его заново — io.Reader после первой отправки уже
// прочитан.
type MultipartBody struct {
	Data        []byte
	ContentType string
}

// FilePart — один файл для загрузки.
type FilePart struct {
	Field    string    // Имя поля формы
	Filename string    // Имя файла
	Content  io.Reader // Содержимое
}

// NewMultipartBody собирает multipart тело из полей формы и файлов.
func NewMultipartBody(fields map[string]string, files []FilePart) (*MultipartBody, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return nil, fmt.Errorf("write form field %s: %w", name, err)
		}
	}

	for _, f := range files {
		part, err := w.CreateFormFile(f.Field, f.Filename)
		if err != nil {
			return nil, fmt.Errorf("create form file %s: %w", f.Field, err)
		}
		if _, err := io.Copy(part, f.Content); err != nil {
			return nil, fmt.Errorf("copy file %s: %w", f.Filename, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalize multipart body: %w", err)
	}

	return &MultipartBody{
		Data:        buf.Bytes(),
		ContentType: w.FormDataContentType(),
	}, nil
}

// PostMultipart выполняет POST запрос с multipart телом (загрузка файлов)
// и раскладывает ответ в dest.
func (c *Client) PostMultipart(ctx context.Context, path string, fields map[string]string, files []FilePart, auth bool, dest interface{}) error {
	body, err := NewMultipartBody(fields, files)
	if err != nil {
		return err
	}

	opts := []RequestOption{WithBody(body)}
	if auth {
		opts = append(opts, WithAuth())
	}
	return c.do(ctx, NewRequest("POST", path, opts...), dest)
}
