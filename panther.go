// Package panther is the public face of the framework: build an App from
// a Config, register handlers on it and Run it. Everything here is an
// alias of the kit and framework packages, which remain usable directly.
package panther

import (
	"github.com/panther-now/panther/internal/framework"
	"github.com/panther-now/panther/kit/matcher"
	"github.com/panther-now/panther/kit/mux"
	"github.com/panther-now/panther/kit/response"
)

const Version = "v0.1.0"

/////////////////////////////////////////////////////////////////////
/////// APP
/////////////////////////////////////////////////////////////////////

type (
	App    = framework.App
	Config = framework.Config
)

var (
	New            = framework.New
	MustNew        = framework.MustNew
	LoadConfig     = framework.LoadConfig
	MustLoadConfig = framework.MustLoadConfig
	DefaultConfig  = framework.DefaultConfig

	Log = framework.Log
)

/////////////////////////////////////////////////////////////////////
/////// ROUTING
/////////////////////////////////////////////////////////////////////

type (
	Ctx               = mux.Ctx
	Handler           = mux.Handler
	HandlerFunc       = mux.HandlerFunc
	Middleware        = mux.Middleware
	MiddlewareOptions = mux.MiddlewareOptions
	Group             = mux.Group
	Route             = mux.Route
	Params            = matcher.Params
	Outcome           = mux.Outcome
	Observer          = mux.Observer
)

var (
	Timeout            = mux.Timeout
	MiddlewareFromFunc = mux.MiddlewareFromFunc
	FromHTTPMiddleware = mux.FromHTTPMiddleware
	FromHTTPHandler    = mux.FromHTTPHandler
	GetParams          = mux.GetParams
)

/////////////////////////////////////////////////////////////////////
/////// RESPONSES & ERRORS
/////////////////////////////////////////////////////////////////////

type (
	Response  = response.Response
	ErrorBody = response.ErrorBody
	APIError  = mux.APIError
	HTTPError = mux.HTTPError
)

var (
	JSON        = response.JSON
	MustJSON    = response.MustJSON
	Text        = response.Text
	HTML        = response.HTML
	Bytes       = response.Bytes
	OK          = response.OK
	NoContent   = response.NoContent
	Redirect    = response.Redirect
	NewAPIError = mux.NewAPIError
)
