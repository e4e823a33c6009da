package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"
)

const defaultChunkSize = 4 * 1024 * 1024 // 4MB

type uploadResponse struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	ExpiresAt time.Time `json:"expires_at"`
	Error     string    `json:"error"`
}

type initResponse struct {
	FileID    string    `json:"file_id"`
	ExpiresAt time.Time `json:"expires_at"`
	Error     string    `json:"error"`
}

type listResponse struct {
	Files []struct {
		ID        string    `json:"id"`
		Filename  string    `json:"filename"`
		Size      int64     `json:"size"`
		ExpiresAt time.Time `json:"expires_at"`
	} `json:"files"`
	Count int    `json:"count"`
	Error string `json:"error"`
}

func main() {
	app := &cli.App{
		Name:  "blobzip",
		Usage: "client for the blob.zip file hosting service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Aliases: []string{"u"},
				Usage:   "server base URL",
				Value:   "http://localhost:8080",
				EnvVars: []string{"BLOBZIP_URL"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "upload",
				Usage:     "upload a file and print its single-use link",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "chunked",
						Usage: "upload in 4MB chunks (for large files)",
					},
				},
				Action: uploadCmd,
			},
			{
				Name:   "list",
				Usage:  "list live files on the server",
				Action: listCmd,
			},
			{
				Name:      "download",
				Usage:     "download a file by its link (consumes the link)",
				ArgsUsage: "<url> [output]",
				Action:    downloadCmd,
			},
			{
				Name:      "delete",
				Usage:     "delete a file by id (requires an admin token)",
				ArgsUsage: "<id>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "token",
						Usage:   "admin bearer token",
						EnvVars: []string{"BLOBZIP_TOKEN"},
					},
				},
				Action: deleteCmd,
			},
			{
				Name:   "config",
				Usage:  "print the effective client configuration",
				Action: configCmd,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func uploadCmd(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return fmt.Errorf("usage: blobzip upload <file>")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", path, err)
	}
	name := filepath.Base(path)
	base := c.String("url")

	var result *uploadResponse
	if c.Bool("chunked") {
		result, err = uploadChunked(base, name, data)
	} else {
		result, err = uploadDirect(base, name, data)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Uploaded %s (%d bytes)\n", result.Filename, result.Size)
	fmt.Printf("Download URL: %s\n", result.URL)
	fmt.Printf("Expires at:   %s\n", result.ExpiresAt.Format(time.RFC3339))
	fmt.Println("Note: the link works exactly once.")
	return nil
}

func uploadDirect(base, name string, data []byte) (*uploadResponse, error) {
	endpoint := fmt.Sprintf("%s/api/upload?f=%s", base, url.QueryEscape(name))
	resp, err := http.Post(endpoint, "application/octet-stream", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	var result uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("invalid server response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("server error (%d): %s", resp.StatusCode, result.Error)
	}
	return &result, nil
}

func uploadChunked(base, name string, data []byte) (*uploadResponse, error) {
	initURL := fmt.Sprintf("%s/api/upload/chunked?action=init&filename=%s&totalSize=%d",
		base, url.QueryEscape(name), len(data))
	resp, err := http.Post(initURL, "", nil)
	if err != nil {
		return nil, fmt.Errorf("init request failed: %w", err)
	}
	var init initResponse
	err = json.NewDecoder(resp.Body).Decode(&init)
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("invalid init response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("init failed (%d): %s", resp.StatusCode, init.Error)
	}

	total := (len(data) + defaultChunkSize - 1) / defaultChunkSize
	for i := 0; i < total; i++ {
		start := i * defaultChunkSize
		end := start + defaultChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[start:end]
		last := i == total-1

		sum := sha256.Sum256(chunk)
		chunkURL := fmt.Sprintf("%s/api/upload/chunked?action=chunk&fileId=%s&chunkIndex=%d&last=%t",
			base, init.FileID, i, last)

		req, err := http.NewRequest(http.MethodPost, chunkURL, bytes.NewReader(chunk))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("X-Chunk-Checksum", hex.EncodeToString(sum[:]))

		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("chunk %d failed: %w", i, err)
		}

		if last {
			var result uploadResponse
			err = json.NewDecoder(resp.Body).Decode(&result)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("invalid finalize response: %w", err)
			}
			if resp.StatusCode != http.StatusCreated {
				return nil, fmt.Errorf("finalize failed (%d): %s", resp.StatusCode, result.Error)
			}
			return &result, nil
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("chunk %d rejected (%d): %s", i, resp.StatusCode, body)
		}
		fmt.Printf("Sent chunk %d/%d\n", i+1, total)
	}

	return nil, fmt.Errorf("no chunks sent")
}

func listCmd(c *cli.Context) error {
	resp, err := http.Get(c.String("url") + "/api/files")
	if err != nil {
		return fmt.Errorf("list request failed: %w", err)
	}
	defer resp.Body.Close()

	var result listResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("invalid server response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server error (%d): %s", resp.StatusCode, result.Error)
	}

	if result.Count == 0 {
		fmt.Println("No live files.")
		return nil
	}
	for _, f := range result.Files {
		fmt.Printf("%-10s %-40s %10d  expires %s\n",
			f.ID, f.Filename, f.Size, f.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

func downloadCmd(c *cli.Context) error {
	target := c.Args().First()
	if target == "" {
		return fmt.Errorf("usage: blobzip download <url> [output]")
	}

	resp, err := http.Get(target)
	if err != nil {
		return fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: server returned %d (link may be consumed or expired)", resp.StatusCode)
	}

	output := c.Args().Get(1)
	if output == "" {
		u, err := url.Parse(resp.Request.URL.String())
		if err == nil && filepath.Base(u.Path) != "/" {
			output = filepath.Base(u.Path)
		} else {
			output = "download.bin"
		}
	}

	out, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("cannot create %s: %w", output, err)
	}
	defer out.Close()

	n, err := io.Copy(out, resp.Body)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}
	fmt.Printf("Saved %s (%d bytes)\n", output, n)
	return nil
}

func deleteCmd(c *cli.Context) error {
	id := c.Args().First()
	if id == "" {
		return fmt.Errorf("usage: blobzip delete <id>")
	}
	token := c.String("token")
	if token == "" {
		return fmt.Errorf("an admin token is required (--token or BLOBZIP_TOKEN)")
	}

	body, _ := json.Marshal(map[string][]string{"ids": {id}})
	req, err := http.NewRequest(http.MethodDelete, c.String("url")+"/api/admin/files", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("delete failed (%d): %s", resp.StatusCode, raw)
	}
	fmt.Printf("Deleted %s\n", id)
	return nil
}

func configCmd(c *cli.Context) error {
	fmt.Printf("Server URL: %s\n", c.String("url"))
	if os.Getenv("BLOBZIP_URL") != "" {
		fmt.Println("(from BLOBZIP_URL)")
	}
	if os.Getenv("BLOBZIP_TOKEN") != "" {
		fmt.Println("Admin token: set (BLOBZIP_TOKEN)")
	}
	return nil
}
