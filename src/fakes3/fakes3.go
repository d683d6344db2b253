/*
Package fakes3 is a small S3-compatible server that keeps objects in a
local folder. It understands just enough of the path-style API (bucket
creation, object put/get/delete) for the S3 file backend to run against it
in development and tests.
*/
package fakes3

import (
	"encoding/xml"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"git.handmade.network/hmn/forumdb/src/logging"
)

type s3Error struct {
	XMLName  xml.Name `xml:"Error"`
	Code     string   `xml:"Code"`
	Message  string   `xml:"Message"`
	Resource string   `xml:"Resource"`
}

// Serves buckets as subfolders of dir.
func Handler(dir string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		bucket, key := bucketKey(r)
		logging.Debug().
			Str("method", r.Method).
			Str("bucket", bucket).
			Str("key", key).
			Msg("fakes3 request")

		if bucket == "" {
			writeError(w, r, http.StatusBadRequest, "InvalidBucketName", "no bucket in path")
			return
		}
		bucketDir := filepath.Join(dir, bucket)
		objectPath := filepath.Join(bucketDir, key)

		if key == "" {
			switch r.Method {
			case http.MethodPut:
				if err := os.MkdirAll(bucketDir, fs.ModePerm); err != nil {
					writeInternal(w, r, err)
					return
				}
				w.Header().Set("Location", "/"+bucket)
				w.WriteHeader(http.StatusOK)
			case http.MethodHead:
				if !exists(bucketDir) {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				w.WriteHeader(http.StatusOK)
			default:
				writeError(w, r, http.StatusNotImplemented, "NotImplemented", "unsupported bucket operation")
			}
			return
		}

		if !exists(bucketDir) {
			writeError(w, r, http.StatusNotFound, "NoSuchBucket", "The specified bucket does not exist")
			return
		}

		switch r.Method {
		case http.MethodPut:
			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeInternal(w, r, err)
				return
			}
			if err := os.WriteFile(objectPath, body, 0o644); err != nil {
				writeInternal(w, r, err)
				return
			}
			w.WriteHeader(http.StatusOK)
		case http.MethodGet, http.MethodHead:
			data, err := os.ReadFile(objectPath)
			if errors.Is(err, fs.ErrNotExist) {
				writeError(w, r, http.StatusNotFound, "NoSuchKey", "The specified key does not exist.")
				return
			} else if err != nil {
				writeInternal(w, r, err)
				return
			}
			w.Header().Set("Content-Type", "application/octet-stream")
			w.WriteHeader(http.StatusOK)
			if r.Method == http.MethodGet {
				w.Write(data)
			}
		case http.MethodDelete:
			err := os.Remove(objectPath)
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				writeInternal(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, r, http.StatusNotImplemented, "NotImplemented", "unsupported object operation")
		}
	})
}

// Nested keys are flattened into one file name per object.
func bucketKey(r *http.Request) (string, string) {
	path := strings.TrimPrefix(r.URL.Path, "/")
	slashIdx := strings.IndexByte(path, '/')
	if slashIdx == -1 {
		return path, ""
	}
	return path[:slashIdx], strings.ReplaceAll(path[slashIdx+1:], "/", "~")
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	body, _ := xml.Marshal(s3Error{Code: code, Message: message, Resource: r.URL.Path})
	w.Write([]byte(xml.Header))
	w.Write(body)
}

func writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	logging.Error().Err(err).Str("path", r.URL.Path).Msg("fakes3 failed")
	writeError(w, r, http.StatusInternalServerError, "InternalError", err.Error())
}
