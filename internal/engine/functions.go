package engine

import (
	"regexp"
	"sort"
	"strings"
)

// supportedFunctions is the curated Athena/Trino function allow-list,
// uppercase names only.
var supportedFunctions = buildSet(
	// aggregate
	"APPROX_DISTINCT", "APPROX_MOST_FREQUENT", "APPROX_PERCENTILE",
	"APPROX_SET", "ARBITRARY", "ARRAY_AGG", "AVG", "BITWISE_AND_AGG",
	"BITWISE_OR_AGG", "BOOL_AND", "BOOL_OR", "CHECKSUM", "COUNT",
	"COUNT_IF", "EVERY", "GEOMETRIC_MEAN", "HISTOGRAM", "KURTOSIS",
	"LISTAGG", "MAP_AGG", "MAP_UNION", "MAX", "MAX_BY", "MIN", "MIN_BY",
	"MULTIMAP_AGG", "NUMERIC_HISTOGRAM", "QDIGEST_AGG", "REDUCE_AGG",
	"REGR_INTERCEPT", "REGR_SLOPE", "SKEWNESS", "STDDEV", "STDDEV_POP",
	"STDDEV_SAMP", "SUM", "TDIGEST_AGG", "VAR_POP", "VAR_SAMP", "VARIANCE",

	// array
	"ALL_MATCH", "ANY_MATCH", "ARRAY_DISTINCT", "ARRAY_EXCEPT",
	"ARRAY_INTERSECT", "ARRAY_JOIN", "ARRAY_MAX", "ARRAY_MIN",
	"ARRAY_POSITION", "ARRAY_REMOVE", "ARRAY_SORT", "ARRAY_UNION",
	"ARRAYS_OVERLAP", "CARDINALITY", "COMBINATIONS", "CONCAT",
	"CONTAINS", "CONTAINS_SEQUENCE", "ELEMENT_AT", "FILTER", "FLATTEN",
	"NGRAMS", "NONE_MATCH", "REDUCE", "REPEAT", "REVERSE", "SEQUENCE",
	"SHUFFLE", "SLICE", "TRANSFORM", "TRIM_ARRAY", "ZIP", "ZIP_WITH",

	// string
	"CHR", "CODEPOINT", "CONCAT_WS", "FORMAT", "HAMMING_DISTANCE",
	"INITCAP", "LENGTH", "LEVENSHTEIN_DISTANCE", "LOWER", "LPAD", "LTRIM",
	"LUHN_CHECK", "NORMALIZE", "POSITION", "REPLACE", "RPAD",
	"RTRIM", "SOUNDEX", "SPLIT", "SPLIT_PART", "SPLIT_TO_MAP",
	"SPLIT_TO_MULTIMAP", "STARTS_WITH", "STRPOS", "SUBSTR", "SUBSTRING",
	"TRANSLATE", "TRIM", "UPPER", "WORD_STEM",

	// math
	"ABS", "ACOS", "ASIN", "ATAN", "ATAN2", "BETA_CDF", "BINOMIAL_CDF",
	"CAUCHY_CDF", "CBRT", "CEIL", "CEILING", "CHI_SQUARED_CDF", "COS",
	"COSH", "COSINE_SIMILARITY", "DEGREES", "E", "EXP", "F_CDF", "FLOOR",
	"GAMMA_CDF", "INFINITY", "INVERSE_BETA_CDF", "INVERSE_NORMAL_CDF",
	"IS_FINITE", "IS_INFINITE", "IS_NAN", "LAPLACE_CDF", "LN", "LOG",
	"LOG10", "LOG2", "MOD", "NAN", "NORMAL_CDF", "PI", "POISSON_CDF",
	"POW", "POWER", "RADIANS", "RAND", "RANDOM", "ROUND", "SIGN", "SIN",
	"SINH", "SQRT", "TAN", "TANH", "TO_BASE", "TRUNCATE", "WEIBULL_CDF",
	"WIDTH_BUCKET", "WILSON_INTERVAL_LOWER", "WILSON_INTERVAL_UPPER",

	// date/time
	"AT_TIMEZONE", "CURRENT_DATE", "CURRENT_TIME", "CURRENT_TIMESTAMP",
	"CURRENT_TIMEZONE", "DATE", "DATE_ADD", "DATE_DIFF", "DATE_FORMAT",
	"DATE_PARSE", "DATE_TRUNC", "DAY", "DAY_OF_MONTH", "DAY_OF_WEEK",
	"DAY_OF_YEAR", "DOW", "DOY", "EXTRACT", "FORMAT_DATETIME", "FROM_ISO8601_DATE",
	"FROM_ISO8601_TIMESTAMP", "FROM_ISO8601_TIMESTAMP_NANOS", "FROM_UNIXTIME",
	"FROM_UNIXTIME_NANOS", "HOUR", "HUMAN_READABLE_SECONDS", "LAST_DAY_OF_MONTH",
	"LOCALTIME", "LOCALTIMESTAMP", "MILLISECOND", "MINUTE", "MONTH",
	"NOW", "PARSE_DATETIME", "PARSE_DURATION", "QUARTER", "SECOND",
	"TIMESTAMP_OBJECTID", "TIMEZONE_HOUR", "TIMEZONE_MINUTE", "TO_ISO8601",
	"TO_MILLISECONDS", "TO_UNIXTIME", "WEEK", "WEEK_OF_YEAR", "YEAR",
	"YEAR_OF_WEEK", "YOW",

	// geospatial
	"BING_TILE", "BING_TILE_AT", "BING_TILE_COORDINATES", "BING_TILE_POLYGON",
	"BING_TILE_QUADKEY", "BING_TILE_ZOOM_LEVEL", "BING_TILES_AROUND",
	"CONVEX_HULL_AGG", "FROM_ENCODED_POLYLINE", "FROM_GEOJSON_GEOMETRY",
	"GEOMETRY_FROM_HADOOP_SHAPE", "GEOMETRY_INVALID_REASON", "GEOMETRY_NEAREST_POINTS",
	"GEOMETRY_UNION", "GEOMETRY_UNION_AGG", "GREAT_CIRCLE_DISTANCE",
	"LINE_INTERPOLATE_POINT", "LINE_INTERPOLATE_POINTS", "LINE_LOCATE_POINT",
	"SIMPLIFY_GEOMETRY", "SPATIAL_PARTITIONING", "SPATIAL_PARTITIONS",
	"ST_AREA", "ST_ASBINARY", "ST_ASTEXT", "ST_BOUNDARY", "ST_BUFFER",
	"ST_CENTROID", "ST_CONTAINS", "ST_CONVEXHULL", "ST_COORDDIM",
	"ST_CROSSES", "ST_DIFFERENCE", "ST_DIMENSION", "ST_DISJOINT",
	"ST_DISTANCE", "ST_ENDPOINT", "ST_ENVELOPE", "ST_ENVELOPEASPTS",
	"ST_EQUALS", "ST_EXTERIORRING", "ST_GEOMETRIES", "ST_GEOMETRYFROMTEXT",
	"ST_GEOMETRYN", "ST_GEOMETRYTYPE", "ST_GEOMFROMBINARY", "ST_INTERIORRINGN",
	"ST_INTERSECTION", "ST_INTERSECTS", "ST_ISCLOSED", "ST_ISEMPTY",
	"ST_ISRING", "ST_ISSIMPLE", "ST_ISVALID", "ST_LENGTH", "ST_LINEFROMTEXT",
	"ST_LINESTRING", "ST_MULTIPOINT", "ST_NUMGEOMETRIES", "ST_NUMINTERIORRINGS",
	"ST_NUMPOINTS", "ST_OVERLAPS", "ST_POINT", "ST_POINTN", "ST_POINTS",
	"ST_POLYGON", "ST_RELATE", "ST_STARTPOINT", "ST_SYMDIFFERENCE",
	"ST_TOUCHES", "ST_UNION", "ST_WITHIN", "ST_X", "ST_XMAX", "ST_XMIN",
	"ST_Y", "ST_YMAX", "ST_YMIN", "TO_ENCODED_POLYLINE", "TO_GEOJSON_GEOMETRY",
	"TO_GEOMETRY", "TO_SPHERICAL_GEOGRAPHY",

	// map
	"MAP", "MAP_CONCAT", "MAP_ENTRIES", "MAP_FILTER", "MAP_FROM_ENTRIES",
	"MAP_KEYS", "MAP_VALUES", "MAP_ZIP_WITH", "MULTIMAP_FROM_ENTRIES",
	"TRANSFORM_KEYS", "TRANSFORM_VALUES",

	// json
	"IS_JSON_SCALAR", "JSON_ARRAY_CONTAINS", "JSON_ARRAY_GET",
	"JSON_ARRAY_LENGTH", "JSON_EXTRACT", "JSON_EXTRACT_SCALAR",
	"JSON_FORMAT", "JSON_PARSE", "JSON_QUERY", "JSON_SIZE", "JSON_VALUE",

	// conversion and conditional
	"CAST", "PARSE_DATA_SIZE", "PARSE_PRESTO_DATA_SIZE", "TYPEOF",
	"TRY", "TRY_CAST", "COALESCE", "IF", "NULLIF",

	// binary
	"CRC32", "FROM_BASE32", "FROM_BASE64", "FROM_BASE64URL", "FROM_BIG_ENDIAN_32",
	"FROM_BIG_ENDIAN_64", "FROM_HEX", "FROM_IEEE754_32", "FROM_IEEE754_64",
	"HMAC_MD5", "HMAC_SHA1", "HMAC_SHA256", "HMAC_SHA512",
	"MD5", "MURMUR3", "SHA1", "SHA256", "SHA512",
	"SPOOKY_HASH_V2_32", "SPOOKY_HASH_V2_64", "TO_BASE32", "TO_BASE64",
	"TO_BASE64URL", "TO_BIG_ENDIAN_32", "TO_BIG_ENDIAN_64", "TO_HEX",
	"TO_IEEE754_32", "TO_IEEE754_64", "XXHASH64",

	// window
	"CUME_DIST", "DENSE_RANK", "FIRST_VALUE", "LAG", "LAST_VALUE",
	"LEAD", "NTH_VALUE", "NTILE", "PERCENT_RANK", "RANK", "ROW_NUMBER",

	// regex
	"REGEXP_COUNT", "REGEXP_EXTRACT", "REGEXP_EXTRACT_ALL", "REGEXP_LIKE",
	"REGEXP_POSITION", "REGEXP_REPLACE", "REGEXP_SPLIT",

	// url
	"URL_DECODE", "URL_ENCODE", "URL_EXTRACT_FRAGMENT", "URL_EXTRACT_HOST",
	"URL_EXTRACT_PARAMETER", "URL_EXTRACT_PATH", "URL_EXTRACT_PORT",
	"URL_EXTRACT_PROTOCOL", "URL_EXTRACT_QUERY",

	// other
	"GREATEST", "LEAST", "UNNEST", "UUID",
)

// knownInvalidFunctions maps names commonly carried over from other SQL
// dialects to the suggested Athena alternative.
var knownInvalidFunctions = map[string]string{
	// geospatial
	"ST_COVERS":            "Not supported. Use ST_CONTAINS or ST_INTERSECTS instead",
	"ST_GEOGRAPHYFROMTEXT": "Use ST_GeometryFromText + to_spherical_geography",
	"ST_MAKEPOINT":         "Use ST_Point(longitude, latitude) instead",
	"ST_MAKELINE":          "Not supported. Build LINESTRING manually with ST_GeometryFromText",
	"ST_UNION_AGG":         "Use geometry_union_agg (different name in Athena)",
	"ST_COLLECTIONEXTRACT": "Not supported in Athena",
	"ST_TRANSFORM":         "Coordinate transformation not supported",
	"ST_SETSRID":           "SRID operations not supported",
	"ST_ASGEOJSON":         "Use to_geojson_geometry instead",
	"ST_GEOMFROMGEOJSON":   "Use from_geojson_geometry instead",
	"GEOMETRY_TYPE":        "Not supported in Athena. Use ST_GeometryType instead, or check with ST_Dimension",

	// array
	"ARRAY_EXISTS":           "Not supported. Use CONTAINS(array, element) or filter(array, x -> condition)",
	"ARRAY_APPEND":           "Use array || ARRAY[element] syntax instead",
	"ARRAY_PREPEND":          "Use ARRAY[element] || array syntax instead",
	"ARRAY_CAT":              "Use CONCAT(array1, array2) or array1 || array2",
	"ARRAY_LENGTH":           "Use cardinality(array) instead",
	"ARRAY_TO_STRING":        "Use array_join(array, delimiter) instead",
	"STRING_TO_ARRAY":        "Use split(string, delimiter) instead",
	"UNNEST_WITH_ORDINALITY": "Athena supports WITH ORDINALITY but syntax is different",

	// date/time
	"STR_TO_DATE":    "Use date_parse(string, format) instead",
	"UNIX_TIMESTAMP": "Use to_unixtime(timestamp) instead",
	"FROM_DAYS":      "Not supported. Use date_add or date arithmetic",
	"TO_DAYS":        "Not supported. Use date_diff instead",
	"TIMESTAMPDIFF":  "Use date_diff function with unit parameter",
	"TIMESTAMPADD":   "Use date_add function instead",
	"CURDATE":        "Use CURRENT_DATE",
	"CURTIME":        "Use CURRENT_TIME",

	// aggregate
	"GROUP_CONCAT":    "Use array_agg(column) then array_join(array, delimiter)",
	"STRING_AGG":      "Use listagg(column, delimiter) WITHIN GROUP (ORDER BY ...) instead",
	"MEDIAN":          "Use approx_percentile(column, 0.5) instead",
	"PERCENTILE_CONT": "Use approx_percentile instead",
	"PERCENTILE_DISC": "Use approx_percentile instead",

	// type conversion
	"TO_CHAR":   "Use CAST(value AS VARCHAR) or format() instead",
	"TO_NUMBER": "Use CAST(value AS DOUBLE) or CAST(value AS BIGINT)",
	"TO_DATE":   "Use CAST(value AS DATE) or date_parse",
	"CONVERT":   "Use CAST instead",

	// string
	"INSTR":       "Use strpos(string, substring) instead",
	"LOCATE":      "Use strpos(string, substring) instead",
	"LEFT":        "Use substr(string, 1, length) instead",
	"RIGHT":       "Use substr(string, -length) instead",
	"MID":         "Use substr(string, start, length) instead",
	"SPACE":       "Use repeat(' ', n) instead",
	"CHAR_LENGTH": "Use length(string) instead",

	// conditional
	"IFNULL": "Use COALESCE(value, default) instead",
	"NVL":    "Use COALESCE(value, default) instead",
	"ISNULL": "Use value IS NULL or COALESCE instead",
	"DECODE": "Use CASE WHEN ... THEN ... END instead",
}

// sqlKeywords are identifiers that look like calls but are not functions.
var sqlKeywords = buildSet(
	"SELECT", "FROM", "WHERE", "JOIN", "INNER",
	"OUTER", "CROSS", "ON", "AND", "OR", "AS", "IN", "EXISTS",
	"NOT", "BETWEEN", "LIKE", "IS", "NULL", "FULL",
	"CREATE", "ALTER", "DROP", "TABLE", "VIEW", "INDEX", "SCHEMA",
	"CASE", "WHEN", "THEN", "ELSE", "END",
	"WITH", "HAVING", "GROUP", "ORDER", "PARTITION", "OVER",
	"WINDOW", "ROWS", "RANGE", "BY",
	"UNION", "INTERSECT", "EXCEPT", "MINUS", "ALL",
	"ANY", "SOME",
	"INSERT", "UPDATE", "DELETE", "INTO", "VALUES", "SET",
	"LIMIT", "OFFSET", "FETCH", "DISTINCT", "UNIQUE", "USING",
)

var (
	singleQuoted    = regexp.MustCompile(`'[^']*'`)
	doubleQuoted    = regexp.MustCompile(`"[^"]*"`)
	functionCallPat = regexp.MustCompile(`(?i)\b([A-Z_][A-Z0-9_]*)\s*\(`)
)

func buildSet(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}

	return set
}

// extractFunctions returns the sorted unique uppercase function names called
// in the SQL text. Quoted literals and identifiers are ignored, as are plain
// SQL keywords followed by a parenthesis.
func extractFunctions(sql string) []string {
	cleaned := singleQuoted.ReplaceAllString(sql, "")
	cleaned = doubleQuoted.ReplaceAllString(cleaned, "")

	seen := make(map[string]struct{})

	for _, match := range functionCallPat.FindAllStringSubmatch(cleaned, -1) {
		name := strings.ToUpper(match[1])
		if _, keyword := sqlKeywords[name]; keyword {
			continue
		}

		seen[name] = struct{}{}
	}

	functions := make([]string, 0, len(seen))
	for name := range seen {
		functions = append(functions, name)
	}

	sort.Strings(functions)

	return functions
}

// functionReview buckets extracted functions by their standing against the
// allow-list and the known-invalid map.
type functionReview struct {
	Supported    []string
	Unclassified []string
	Invalid      map[string]string // name -> suggested fix
}

func (r functionReview) clean() bool {
	return len(r.Unclassified) == 0 && len(r.Invalid) == 0
}

func classifyFunctions(functions []string) functionReview {
	review := functionReview{Invalid: make(map[string]string)}

	for _, name := range functions {
		if suggestion, bad := knownInvalidFunctions[name]; bad {
			review.Invalid[name] = suggestion
		} else if _, ok := supportedFunctions[name]; ok {
			review.Supported = append(review.Supported, name)
		} else {
			review.Unclassified = append(review.Unclassified, name)
		}
	}

	return review
}
