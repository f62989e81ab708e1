package common

// FrescoEtlVersion is reported by --version and recorded in job logs.
const FrescoEtlVersion = "1.4.0"

const UserAgent = "fresco-etl/" + FrescoEtlVersion
