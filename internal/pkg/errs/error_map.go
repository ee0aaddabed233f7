/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct and the mapping from
package sentinel errors to application codes.
*/
package errs

import (
	"io"
	"net"
	"net/http"

	"relayd/internal/app/registry"
	"relayd/internal/app/wire"
)

// errorMap stores the detailed CustomError struct corresponding to every application error code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:     {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrRateLimitExceeded: {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},
	ErrMalformedPacket:   {Code: ErrMalformedPacket, Message: "Malformed packet.", Status: http.StatusBadRequest},
	ErrUnknownOperation:  {Code: ErrUnknownOperation, Message: "Unsupported operation.", Status: http.StatusBadRequest},

	// 2xxx: Registry, Relay and Transfer Validation Errors
	ErrRegistryFull:     {Code: ErrRegistryFull, Message: "No more users can be registered.", Status: http.StatusConflict},
	ErrUserNotFound:     {Code: ErrUserNotFound, Message: "User not found.", Status: http.StatusNotFound},
	ErrAlreadyConnected: {Code: ErrAlreadyConnected, Message: "User is already connected.", Status: http.StatusConflict},
	ErrNameMismatch:     {Code: ErrNameMismatch, Message: "User name does not match.", Status: http.StatusBadRequest},
	ErrSenderNotFound:   {Code: ErrSenderNotFound, Message: "Sender is not registered.", Status: http.StatusNotFound},
	ErrReceiverNotFound: {Code: ErrReceiverNotFound, Message: "Receiver is not registered.", Status: http.StatusNotFound},
	ErrReceiverOffline:  {Code: ErrReceiverOffline, Message: "Receiver is not connected.", Status: http.StatusConflict},
	ErrSenderOffline:    {Code: ErrSenderOffline, Message: "Sender is not connected.", Status: http.StatusConflict},
	ErrSenderMismatch:   {Code: ErrSenderMismatch, Message: "Sender does not match the session user.", Status: http.StatusForbidden},
	ErrTransferBusy:     {Code: ErrTransferBusy, Message: "User is busy with another transfer.", Status: http.StatusConflict},
	ErrSelfTransfer:     {Code: ErrSelfTransfer, Message: "Cannot send a file to yourself.", Status: http.StatusBadRequest},
	ErrInvalidFileSize:  {Code: ErrInvalidFileSize, Message: "Invalid file size.", Status: http.StatusBadRequest},

	// 3xxx: Session Errors
	ErrLoginRequired: {Code: ErrLoginRequired, Message: "Login required.", Status: http.StatusUnauthorized},

	// 5xxx: Internal System Errors
	ErrUnknown:        {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrTransferFailed: {Code: ErrTransferFailed, Message: "File transfer failed.", Status: http.StatusBadGateway},
	ErrArchiveFailed:  {Code: ErrArchiveFailed, Message: "File archive failed.", Status: http.StatusBadGateway},
}

// sentinelCodes maps sentinel errors of the domain packages to application codes.
var sentinelCodes = []struct {
	err  error
	code int
}{
	{registry.ErrRegistryFull, ErrRegistryFull},
	{registry.ErrUnknownUser, ErrUserNotFound},
	{registry.ErrAlreadyConnected, ErrAlreadyConnected},
	{registry.ErrNameMismatch, ErrNameMismatch},
	{registry.ErrUnknownSender, ErrSenderNotFound},
	{registry.ErrUnknownReceiver, ErrReceiverNotFound},
	{registry.ErrReceiverOffline, ErrReceiverOffline},
	{registry.ErrSenderOffline, ErrSenderOffline},
	{registry.ErrSenderMismatch, ErrSenderMismatch},
	{registry.ErrTransferBusy, ErrTransferBusy},
	{registry.ErrSelfTransfer, ErrSelfTransfer},
	{wire.ErrShortPacket, ErrMalformedPacket},
	{wire.ErrUnknownTag, ErrUnknownOperation},
	{net.ErrClosed, ErrTransferFailed},
	{io.ErrClosedPipe, ErrTransferFailed},
}
