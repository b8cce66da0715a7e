package utils

import (
	"github.com/go-playground/validator/v10"
	"github.com/kataras/iris/v12"
)

// Validate is the shared validator instance, also installed as
// app.Validator in main so ctx.ReadJSON validates automatically.
var Validate = validator.New()

type ApiError struct {
	StatusCode int    `json:"status"`
	ErrorCode  string `json:"error"`
	Message    string `json:"message"`
}

func CreateError(statusCode int, errorCode string, message string, ctx iris.Context) {
	ctx.StopWithJSON(statusCode, ApiError{
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Message:    message,
	})
}

func CreateNotFound(ctx iris.Context) {
	CreateError(iris.StatusNotFound, "Not Found", "Resource not found.", ctx)
}

func CreateInternalServerError(ctx iris.Context) {
	CreateError(iris.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred.", ctx)
}

// HandleValidationErrors maps ReadJSON / validator failures to a 400 with
// per-field detail when available.
func HandleValidationErrors(err error, ctx iris.Context) {
	if errs, ok := err.(validator.ValidationErrors); ok {
		validationErrors := make([]validationError, 0, len(errs))
		for _, e := range errs {
			validationErrors = append(validationErrors, validationError{
				ActualTag: e.ActualTag(),
				Namespace: e.Namespace(),
				Kind:      e.Kind().String(),
				Type:      e.Type().String(),
				Value:     e.Value(),
				Param:     e.Param(),
			})
		}
		ctx.StopWithJSON(iris.StatusBadRequest, iris.Map{
			"error":   "Validation Error",
			"message": "Invalid input.",
			"fields":  validationErrors,
		})
		return
	}
	CreateError(iris.StatusBadRequest, "Bad Request", err.Error(), ctx)
}

type validationError struct {
	ActualTag string      `json:"tag"`
	Namespace string      `json:"namespace"`
	Kind      string      `json:"kind"`
	Type      string      `json:"type"`
	Value     interface{} `json:"value"`
	Param     string      `json:"param"`
}

type PageMeta struct {
	Page    int   `json:"page"`
	PerPage int   `json:"per_page"`
	Total   int64 `json:"total"`
}

func JSONPage(ctx iris.Context, data interface{}, page, perPage int, total int64) {
	ctx.JSON(iris.Map{
		"data":  data,
		"meta":  PageMeta{Page: page, PerPage: perPage, Total: total},
		"links": iris.Map{},
	})
}

func JSONError(ctx iris.Context, status int, code, message string) {
	ctx.StatusCode(status)
	ctx.JSON(iris.Map{"error": code, "message": message})
}
