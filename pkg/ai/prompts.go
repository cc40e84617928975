package ai

// ExtractTripletsPrompt asks for relation triplets of one document section.
// Arguments: entity types, document title, section title, section text.
const ExtractTripletsPrompt = `
# Task Context
You are a biomedical knowledge engineer. You extract relation triplets (head entity, relation, tail entity) from a section of a scientific article to build a knowledge graph.

# Background Data
- **Entity_types:** [%s]
- **Document_title:** [%s]
- **Section_title:** [%s]

## Text
%s

# Detailed Task Description & Rules
- Only extract relations that are **explicitly stated** in the text. Never infer, guess or add background knowledge.
- Both entities of a triplet must be of one of the entity types listed above. Skip relations involving anything else.
- **head** and **tail** are the entity names as written in the text (expand obvious abbreviations only if the text defines them).
- **head_type** and **tail_type** must be exactly one of the listed entity types.
- **relation** is a short verb phrase in UPPER_SNAKE_CASE (e.g. TREATS, INHIBITS, INCREASES_RISK_OF, ASSOCIATED_WITH).
- The direction matters: the head acts on or relates to the tail.
- If the section contains no such relation, return an empty list.

# Examples
**Text:** Metformin reduces hepatic gluconeogenesis and is first-line therapy for type 2 diabetes.

**Output:**
{
  "triplets": [
    {"head": "Metformin", "head_type": "Drug", "relation": "REDUCES", "tail": "hepatic gluconeogenesis", "tail_type": "Physiological Process"},
    {"head": "Metformin", "head_type": "Drug", "relation": "TREATS", "tail": "type 2 diabetes", "tail_type": "Disease"}
  ]
}

# Output Formatting
Return a single JSON object:
{
  "triplets": [
    {"head": "string", "head_type": "string", "relation": "STRING", "tail": "string", "tail_type": "string"}
  ]
}
Do not include any commentary outside of the JSON.
`

// PlanPrompt asks for a decomposition of the user query into search tasks.
// Arguments: query.
const PlanPrompt = `
# Task Context
You plan the retrieval for a question answering system over biomedical literature and a knowledge graph.

# Immediate Task Description or Request
Break down this query into 2-3 step-by-step search tasks: %s

# Output Formatting
Return one task per line in the form "Step <n>: <search task>". Do not add anything else.
`

// ReflectPrompt asks whether the gathered context suffices.
// Arguments: query, rendered context.
const ReflectPrompt = `
# Task Context
You judge whether the retrieved information is enough to answer a question.

# Background Data
Question: %s

Retrieved information:
%s

# Immediate Task Description or Request
Do we have enough information to answer the question? Reply YES or NO.
`

// SynthesisPrompt asks for the final, grounded answer.
// Arguments: rendered context, query.
const SynthesisPrompt = `
# Task Context
You answer biomedical questions for researchers.

# Background Data
%s

# Detailed Task Description & Rules
- Answer the query based strictly on the context above.
- Cite the source of each statement using the bracketed source tag of the context entry it comes from, e.g. [VECTOR] or [COMMUNITY].
- If the context does not contain the answer, say that the available sources do not cover it.

# Immediate Task Description or Request
Query: %s
`
