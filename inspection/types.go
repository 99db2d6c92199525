package inspection

// Response is the envelope every endpoint answers with. Code 0 is success.
type Response[T any] struct {
	Code int     `json:"code"`
	Msg  *string `json:"msg"`
	Data T       `json:"data"`
}

// Page selects one page of a paginated list. Zero values are left to the
// server defaults.
type Page struct {
	Page     int
	PageSize int
}

type Warning struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	WarningLevel string   `json:"warning_level"` // info, warning, critical
	Status       string   `json:"status"`        // pending, processing, resolved, ignored
	CameraID     string   `json:"camera_id"`
	CameraName   string   `json:"camera_name"`
	AssignedTo   string   `json:"assigned_to"`
	HandledBy    *string  `json:"handled_by"`
	ResponseTime *float64 `json:"response_time"`
	CreatedAt    string   `json:"created_at"`
	HandledAt    *string  `json:"handled_at"`
}

type WarningsData struct {
	Total    int       `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
	Warnings []Warning `json:"warnings"`
}

type DetectionRecord struct {
	ID            string  `json:"id"`
	CameraID      string  `json:"camera_id"`
	CameraName    string  `json:"camera_name"`
	DetectionType string  `json:"detection_type"` // wearing_hat, no_hat, person_detected
	Confidence    float64 `json:"confidence"`
	BBoxX         float64 `json:"bbox_x"`
	BBoxY         float64 `json:"bbox_y"`
	BBoxWidth     float64 `json:"bbox_width"`
	BBoxHeight    float64 `json:"bbox_height"`
	DetectedAt    string  `json:"detected_at"`
}

type DetectionRecordsData struct {
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
	Records  []DetectionRecord `json:"records"`
}

type ModelInfo struct {
	ID                  int     `json:"id"`
	Name                string  `json:"name"`
	ModelPath           string  `json:"model_path"`
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	IsActive            bool    `json:"is_active"`
	CreatedAt           string  `json:"created_at"`
	UpdatedAt           string  `json:"updated_at"`
}

type ModelsData struct {
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
	Models   []ModelInfo `json:"models"`
}

type DetectionStats struct {
	TotalDetections int     `json:"total_detections"`
	PersonCount     int     `json:"person_count"`
	WearingHatCount int     `json:"wearing_hat_count"`
	NoHatCount      int     `json:"no_hat_count"`
	AvgConfidence   float64 `json:"avg_confidence"`
	ComplianceRate  float64 `json:"compliance_rate"`
}

type DailyStats struct {
	Date       string `json:"date"`
	Total      int    `json:"total"`
	WearingHat int    `json:"wearing_hat"`
	NoHat      int    `json:"no_hat"`
}

type DetectionStatsData struct {
	Stats      DetectionStats `json:"stats"`
	DailyStats []DailyStats   `json:"daily_stats"`
}

type CameraStats struct {
	CameraID            string  `json:"camera_id"`
	CameraName          string  `json:"camera_name"`
	Location            string  `json:"location"`
	IsOnline            bool    `json:"is_online"`
	TotalDetections     int     `json:"total_detections"`
	ViolationCount      int     `json:"violation_count"`
	WearingHatCount     int     `json:"wearing_hat_count"`
	ViolationRate       float64 `json:"violation_rate"`
	LatestDetectionTime string  `json:"latest_detection_time"`
	TodayDetections     int     `json:"today_detections"`
	TodayViolations     int     `json:"today_violations"`
	TodayViolationRate  float64 `json:"today_violation_rate"`
}

type QueryPeriod struct {
	StartDate *string `json:"start_date"`
	EndDate   *string `json:"end_date"`
}

type CameraStatsSummary struct {
	TotalCameras         int         `json:"total_cameras"`
	OnlineCameras        int         `json:"online_cameras"`
	TotalDetections      int         `json:"total_detections"`
	TotalViolations      int         `json:"total_violations"`
	OverallViolationRate float64     `json:"overall_violation_rate"`
	QueryPeriod          QueryPeriod `json:"query_period"`
}

type CameraStatsData struct {
	CameraStats []CameraStats      `json:"camera_stats"`
	Summary     CameraStatsSummary `json:"summary"`
	Timestamp   string             `json:"timestamp"`
}
