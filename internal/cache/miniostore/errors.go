package miniostore

import (
	"context"
	"errors"
	"net/http"

	miniogo "github.com/minio/minio-go/v7"

	"github.com/koustreak/tessera/internal/errs"
)

// mapError translates a MinIO SDK error into a *errs.Error.
func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
	}

	var resp miniogo.ErrorResponse
	if errors.As(err, &resp) {
		switch resp.Code {
		case "NoSuchKey", "NoSuchBucket":
			return errs.WrapCode(errs.ErrKindObjectNotFound, resp.Code, msg, err)
		case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
			return errs.WrapCode(errs.ErrKindObjectExists, resp.Code, msg, err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return errs.WrapCode(errs.ErrKindConnectionFailed, resp.Code, msg, err)
		case "InvalidBucketName", "InvalidObjectName", "KeyTooLongError":
			return errs.WrapCode(errs.ErrKindConfiguration, resp.Code, msg, err)
		case "RequestTimeout", "SlowDown":
			return errs.WrapCode(errs.ErrKindConnectionDropped, resp.Code, msg, err)
		}

		switch resp.StatusCode {
		case http.StatusNotFound:
			return errs.Wrap(errs.ErrKindObjectNotFound, msg, err)
		case http.StatusForbidden, http.StatusUnauthorized:
			return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
		}
		return errs.WrapCode(errs.ErrKindDriver, resp.Code, msg, err)
	}

	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}
