package syscode

const (
	CodeUnknown = "unknown"

	// Startup
	CodeConfigInvalid      = "config_invalid"
	CodeDebugStackFailed   = "debug_stack_failed"
	CodeDebugStackNoOutput = "debug_stack_missing_output"
	CodeAppDeployFailed    = "app_deploy_failed"
	CodePortUnavailable    = "port_unavailable"

	// Invocation
	CodeFunctionNotFound  = "function_not_found"
	CodeInvocationTimeout = "invocation_timeout"
	CodeProcessCrashed    = "process_crashed"
	CodeProcessInitFailed = "process_init_failed"
	CodeHandlerError      = "handler_error"
	CodeOutputTooLarge    = "output_too_large"

	// Bridge
	CodeBridgeSuperseded     = "bridge_session_superseded"
	CodeBridgeDeliveryFailed = "bridge_delivery_failed"
	CodeBridgeInvalidMessage = "bridge_invalid_message"
)
