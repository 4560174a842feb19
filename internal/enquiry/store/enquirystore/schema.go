package enquirystore

// Schema is the DDL for the enquiry aggregate tables. Applied by the
// integration test harness and by dev bootstrap; production schema management
// is out of scope.
const Schema = `
CREATE TABLE IF NOT EXISTS enquiries (
	id UUID PRIMARY KEY,
	email TEXT NOT NULL,
	tutoring_logistics TEXT NOT NULL,
	send_requirements TEXT,
	additional_information TEXT,
	postcode TEXT NOT NULL,
	local_authority_district TEXT NOT NULL,
	tuition_type TEXT,
	support_reference_number TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS enquiries_support_reference_number_key
	ON enquiries (support_reference_number);

CREATE TABLE IF NOT EXISTS tuition_partner_enquiries (
	enquiry_id UUID NOT NULL REFERENCES enquiries (id),
	tuition_partner_id INT NOT NULL,
	tuition_partner_name TEXT NOT NULL,
	tuition_partner_email TEXT NOT NULL,
	PRIMARY KEY (enquiry_id, tuition_partner_id)
);

CREATE TABLE IF NOT EXISTS enquiry_responses (
	enquiry_id UUID NOT NULL,
	tuition_partner_id INT NOT NULL,
	response_text TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (enquiry_id, tuition_partner_id),
	FOREIGN KEY (enquiry_id, tuition_partner_id)
		REFERENCES tuition_partner_enquiries (enquiry_id, tuition_partner_id)
);

CREATE TABLE IF NOT EXISTS key_stage_subject_enquiries (
	id BIGSERIAL PRIMARY KEY,
	enquiry_id UUID NOT NULL REFERENCES enquiries (id),
	key_stage_id INT NOT NULL,
	subject_id INT NOT NULL
);

CREATE TABLE IF NOT EXISTS magic_links (
	token TEXT PRIMARY KEY,
	link_type TEXT NOT NULL,
	enquiry_id UUID REFERENCES enquiries (id),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS magic_links_expires_at_idx ON magic_links (expires_at);
`
