package call

const (
	ParamEventID             = "event_id"
	ParamDeviceID            = "sdid"
	ParamUUID                = "uuid"
	ParamKeyspace            = "k"
	ParamCustomUserID        = "cuid"
	ParamInstanceID          = "instance_id"
	ParamAppKey              = "a"
	ParamProductID           = "i"
	ParamProductName         = "n"
	ParamPlatform            = "p"
	ParamOS                  = "os"
	ParamSDKVersion          = "sdk"
	ParamStorageType         = "storage_type"
	ParamTimezone            = "tz"
	ParamTouchpointTimestamp = "touchpoint_timestamp"
	ParamUserAgent           = "ua"
	ParamMemoryUsed          = "mem_used"
	ParamMemoryAvailable     = "mem_available"
	ParamGlobalProperties    = "global_properties"
	ParamDeviceTime          = "device_time"
	ParamSessionID           = "session_id"
	ParamLag                 = "lag"
	ParamExtra               = "e"
	ParamWebURL              = "u"
	ParamReferrer            = "referrer"
	ParamEventName           = "event_name"
	ParamIsConversion        = "is_conversion"
	ParamIsRevenueEvent      = "is_revenue_event"
	ParamIsFirstEvent        = "is_first_event"
	ParamIsFirstVisit        = "is_first_visit"
	ParamIsFirstPageVisit    = "is_first_page_visit_in_session"
	ParamPersistMode         = "sdid_persist_mode"
	ParamPersistFailReason   = "sdid_persist_failed_reason"
	ParamPreviousDeviceID    = "previous_sdid"
	ParamECID                = "ecid"
	ParamMatchID             = "match_id"
	ParamIsSetMatchID        = "is_set_match_id"
	ParamRevenueCurrency     = "pcc"
	ParamRevenueAmount       = "r"
	ParamSignature           = "h"

	PlatformWeb         = "web"
	PageVisitEventName  = "__PAGE_VISIT__"
	SetMatchIDEventName = "__SET_MATCH_ID__"
)

// BodyParams travel in the signed POST body rather than the query string.
var BodyParams = []string{
	ParamGlobalProperties,
	ParamExtra,
	ParamWebURL,
	ParamUserAgent,
	ParamProductName,
	ParamReferrer,
}
